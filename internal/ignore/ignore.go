// Package ignore reads gitignore-style files from a checked-out repository
// and answers whether a path inside it is excluded.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// DefaultFiles are the ignore files consulted at the repository root.
var DefaultFiles = []string{".gitignore"}

// Parser reads ignore files.
type Parser struct {
	// Files are the ignore file names looked up at the root.
	Files []string

	// Fallback patterns apply when none of Files exists.
	Fallback []string
}

// NewParser creates a parser. A nil files list uses DefaultFiles.
func NewParser(files, fallback []string) *Parser {
	if files == nil {
		files = DefaultFiles
	}
	return &Parser{Files: files, Fallback: fallback}
}

// Matcher reports whether a repository-relative path is ignored.
type Matcher struct {
	patterns []string
	m        gitignore.Matcher
}

// Load reads the ignore files under root. Missing files are skipped; the
// fallback patterns are used when none is found.
func (p *Parser) Load(root string) (*Matcher, error) {
	var lines []string
	found := false
	for _, name := range p.Files {
		fileLines, err := readLines(filepath.Join(root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		lines = append(lines, fileLines...)
	}
	if !found {
		lines = append(lines, p.Fallback...)
	}
	return NewMatcher(lines), nil
}

// NewMatcher compiles gitignore lines. Comments and blank lines are dropped;
// negations are honored.
func NewMatcher(lines []string) *Matcher {
	patterns := deduplicate(clean(lines))
	compiled := make([]gitignore.Pattern, 0, len(patterns))
	for _, line := range patterns {
		compiled = append(compiled, gitignore.ParsePattern(line, nil))
	}
	return &Matcher{patterns: patterns, m: gitignore.NewMatcher(compiled)}
}

// Patterns returns the effective pattern lines.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return m.patterns
}

// Ignored reports whether rel (slash or OS separated, relative to the root)
// is excluded. A nil Matcher ignores nothing.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	return m.m.Match(strings.Split(rel, "/"), isDir)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// clean drops comments and blank lines and trims unescaped trailing spaces.
func clean(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if !strings.HasSuffix(line, `\ `) {
			line = strings.TrimRight(line, " \t")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func deduplicate(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
