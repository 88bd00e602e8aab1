// Package secrets finds credentials in chunk text with the gitleaks
// detector and replaces them with [REDACTED:<rule>] markers before the text
// is embedded and stored.
//
// Allowlists come from the repository's own .gitleaks.toml and an optional
// user file; a match of either suppresses a finding.
package secrets
