package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/ignore"
	"github.com/fyrsmithlabs/repochat/internal/logging"
)

// defaultSkipDirs are never descended into. Their contents could not match
// the allow-list in a useful way and walking them is slow.
var defaultSkipDirs = []string{".git"}

// DefaultSkipDirs returns the directory names a Collector skips unless
// WithSkipDirs replaces them.
func DefaultSkipDirs() []string {
	return slices.Clone(defaultSkipDirs)
}

// CollectorOption customizes a Collector.
type CollectorOption func(*Collector)

// WithSkipDirs replaces the set of directory names that are not descended.
func WithSkipDirs(names []string) CollectorOption {
	return func(c *Collector) {
		c.skipDirs = make(map[string]bool, len(names))
		for _, n := range names {
			c.skipDirs[n] = true
		}
	}
}

// WithIgnoreParser makes Collect honor the repository's ignore files.
func WithIgnoreParser(p *ignore.Parser) CollectorOption {
	return func(c *Collector) { c.ignore = p }
}

// WithMaxFileSize skips files larger than n bytes. Zero disables the limit.
func WithMaxFileSize(n int64) CollectorOption {
	return func(c *Collector) { c.maxFileSize = max(n, 0) }
}

// Collector selects and reads files under a workspace root.
type Collector struct {
	logger      *logging.Logger
	skipDirs    map[string]bool
	ignore      *ignore.Parser
	maxFileSize int64
	readFile    func(string) ([]byte, error)
}

// NewCollector returns a Collector that skips .git directories.
func NewCollector(logger *logging.Logger, opts ...CollectorOption) *Collector {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Collector{
		logger:   logger.Named("repository"),
		readFile: os.ReadFile,
	}
	WithSkipDirs(defaultSkipDirs)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SkippedFile is an allowed file that could not be read or was a symbolic
// link.
type SkippedFile struct {
	RelPath string
	Err     error
}

// Report is the outcome of a collection.
type Report struct {
	Files   []SourceFile
	Skipped []SkippedFile
}

// Collect returns the files under root whose names end with one of allowed.
// Matching is case-sensitive and includes the dot. It fails only when root
// is not a readable directory or ctx is cancelled.
func (c *Collector) Collect(ctx context.Context, root string, allowed []string) ([]SourceFile, error) {
	report, err := c.CollectReport(ctx, root, allowed)
	if err != nil {
		return nil, err
	}
	return report.Files, nil
}

// CollectReport is Collect that also lists the files skipped on read errors
// and the symbolic links left unfollowed.
func (c *Collector) CollectReport(ctx context.Context, root string, allowed []string) (Report, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Report{}, fmt.Errorf("collecting files: %w", err)
	}
	if !info.IsDir() {
		return Report{}, fmt.Errorf("collecting files: %s is not a directory", root)
	}

	var matcher *ignore.Matcher
	if c.ignore != nil {
		matcher, err = c.ignore.Load(root)
		if err != nil {
			c.logger.Warn(ctx, "ignore files unreadable, collecting without them",
				zap.String("root", root), zap.Error(err))
			matcher = nil
		}
	}

	var report Report
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			c.logger.Warn(ctx, "skipping unreadable entry", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && (c.skipDirs[d.Name()] || matcher.Ignored(rel, true)) {
				return fs.SkipDir
			}
			return nil
		}

		name := d.Name()
		if !hasAllowedSuffix(name, allowed) || matcher.Ignored(rel, false) {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			c.logger.Warn(ctx, "skipping symbolic link", zap.String("path", path))
			report.Skipped = append(report.Skipped, SkippedFile{RelPath: rel, Err: ErrSymlink})
			return nil
		}

		content, err := c.read(ctx, path)
		if err != nil {
			report.Skipped = append(report.Skipped, SkippedFile{RelPath: rel, Err: err})
			return nil
		}
		report.Files = append(report.Files, SourceFile{
			Path:     path,
			RelPath:  rel,
			Name:     name,
			Language: LanguageOf(name),
			Content:  content,
		})
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("collecting files: %w", err)
	}

	c.logger.Debug(ctx, "files collected",
		zap.String("root", root),
		zap.Int("files", len(report.Files)),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

var (
	// ErrFileTooLarge marks files skipped by WithMaxFileSize.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrSymlink marks symbolic links, which are never followed.
	ErrSymlink = errors.New("symbolic link not followed")
)

func (c *Collector) read(ctx context.Context, path string) (string, error) {
	if c.maxFileSize > 0 {
		if info, err := os.Stat(path); err == nil && info.Size() > c.maxFileSize {
			c.logger.Info(ctx, "skipping large file",
				zap.String("path", path),
				zap.Int64("size", info.Size()),
				zap.Int64("limit", c.maxFileSize))
			return "", fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.Size())
		}
	}

	data, err := c.readFile(path)
	if err != nil {
		c.logger.Warn(ctx, "skipping unreadable file",
			zap.String("path", path),
			zap.Bool("permission", errors.Is(err, fs.ErrPermission)),
			zap.Error(err))
		return "", err
	}
	return decode(data), nil
}

// decode returns data as a string, replacing each invalid byte with U+FFFD.
func decode(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return string([]rune(string(data)))
}

func hasAllowedSuffix(name string, allowed []string) bool {
	for _, ext := range allowed {
		if ext != "" && strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
