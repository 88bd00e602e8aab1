package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is a detected secret. The secret value itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is redacted content and what was removed from it.
type Result struct {
	Content  string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// HasFindings reports whether anything was redacted.
func (r Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Options configures a Redactor.
type Options struct {
	// Enabled turns detection on. A disabled Redactor returns content as is.
	Enabled bool

	// ProjectDir is searched for a .gitleaks.toml allowlist.
	ProjectDir string

	// UserAllowlist is the path of an additional allowlist file.
	UserAllowlist string
}

// Redactor replaces secrets in text. It is safe for concurrent use.
type Redactor struct {
	enabled   bool
	allowlist *Allowlist

	mu       sync.Mutex
	detector *detect.Detector
}

// NewRedactor loads the allowlists and the default gitleaks rules.
func NewRedactor(opts Options) (*Redactor, error) {
	if !opts.Enabled {
		return &Redactor{}, nil
	}

	allowlist, err := LoadAllowlists(opts.ProjectDir, opts.UserAllowlist)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating detector: %w", err)
	}
	if !allowlist.Empty() {
		applyAllowlist(&detector.Config, allowlist)
	}
	return &Redactor{enabled: true, allowlist: allowlist, detector: detector}, nil
}

// Enabled reports whether the Redactor scans content.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Allowlist returns the merged allowlist in effect.
func (r *Redactor) Allowlist() *Allowlist {
	if r == nil || r.allowlist == nil {
		return &Allowlist{}
	}
	return r.allowlist
}

// Redact scans content found in the file at path (used by path allowlists,
// may be empty) and replaces each secret with a [REDACTED:<rule>] marker.
func (r *Redactor) Redact(path, content string) Result {
	if !r.Enabled() || content == "" {
		return Result{Content: content}
	}

	start := time.Now()
	r.mu.Lock()
	found := r.detector.Detect(detect.Fragment{Raw: content, FilePath: path})
	r.mu.Unlock()

	res := Result{Content: content}
	if len(found) == 0 {
		res.Duration = time.Since(start)
		return res
	}

	// longest first so a secret containing another is replaced whole
	sort.SliceStable(found, func(i, j int) bool { return len(found[i].Secret) > len(found[j].Secret) })

	res.ByRule = make(map[string]int)
	for _, f := range found {
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
		res.ByRule[f.RuleID]++
		if f.Secret != "" {
			res.Content = strings.ReplaceAll(res.Content, f.Secret, Marker(f.RuleID))
		}
	}
	sort.SliceStable(res.Findings, func(i, j int) bool { return res.Findings[i].Line < res.Findings[j].Line })
	res.Duration = time.Since(start)
	return res
}

// Marker is the text that replaces a secret found by rule.
func Marker(rule string) string {
	return "[REDACTED:" + rule + "]"
}

// applyAllowlist appends the patterns to the gitleaks config as a global
// allowlist. Patterns were validated when loaded.
func applyAllowlist(cfg *gitleaksConfig.Config, a *Allowlist) {
	global := &gitleaksConfig.Allowlist{Description: "repochat project and user allowlist"}
	for _, pattern := range a.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	for _, pattern := range a.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
