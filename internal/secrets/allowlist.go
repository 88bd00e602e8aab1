package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// ProjectAllowlistFile is looked up at the repository root.
const ProjectAllowlistFile = ".gitleaks.toml"

// Allowlist holds regexes that suppress findings.
type Allowlist struct {
	Paths   []string // matched against the file path
	Regexes []string // matched against the secret
}

// Empty reports whether the allowlist has no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}

// Merge returns the union of a and b.
func (a *Allowlist) Merge(b *Allowlist) *Allowlist {
	out := &Allowlist{}
	for _, src := range []*Allowlist{a, b} {
		if src == nil {
			continue
		}
		out.Paths = append(out.Paths, src.Paths...)
		out.Regexes = append(out.Regexes, src.Regexes...)
	}
	return out
}

// LoadAllowlists reads the project file from projectDir and the user file at
// userPath and merges them. Empty arguments and missing files are skipped.
func LoadAllowlists(projectDir, userPath string) (*Allowlist, error) {
	merged := &Allowlist{}
	var paths []string
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ProjectAllowlistFile))
	}
	if userPath != "" {
		paths = append(paths, userPath)
	}
	for _, path := range paths {
		a, err := loadTOML(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged = merged.Merge(a)
	}
	return merged, nil
}

func loadTOML(path string) (*Allowlist, error) {
	var file struct {
		Allowlist struct {
			Paths   []string `toml:"paths"`
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	a := &Allowlist{Paths: file.Allowlist.Paths, Regexes: file.Allowlist.Regexes}
	if err := a.validate(path); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allowlist) validate(source string) error {
	for _, group := range [][]string{a.Paths, a.Regexes} {
		for _, pattern := range group {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, source, err)
			}
		}
	}
	return nil
}
