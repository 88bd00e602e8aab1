// Package workspace allocates and removes the private directories that
// hold one repository checkout each.
//
// Paths are <root>/<label>_<8 hex chars>, so concurrent runs for the same
// repository never collide and a leftover directory from a failed cleanup
// never blocks a new run. Removal copes with the read-only files git leaves
// behind in pack directories.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/logging"
)

const (
	defaultRoot        = "cloned_repos"
	defaultAttempts    = 3
	defaultRetryDelay  = time.Second
	defaultSettleDelay = 500 * time.Millisecond
	suffixLen          = 8
)

// Handle identifies a workspace directory owned by one ingestion run.
type Handle struct {
	Root      string    `json:"root"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Exists reports whether the directory is on disk.
func (h Handle) Exists() bool {
	_, err := os.Lstat(h.Root)
	return err == nil
}

// RemovalError reports a workspace that could not be deleted. It is never
// fatal: the only cost is disk space.
type RemovalError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *RemovalError) Error() string {
	return fmt.Sprintf("removing workspace %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *RemovalError) Unwrap() error { return e.Err }

// DefaultConfig mirrors the defaults of the workspace config section.
func DefaultConfig() Config {
	return Config{
		Root:        defaultRoot,
		Attempts:    defaultAttempts,
		RetryDelay:  defaultRetryDelay,
		SettleDelay: defaultSettleDelay,
	}
}

// Config configures a Manager.
type Config struct {
	Root        string
	Attempts    int
	RetryDelay  time.Duration // pause between full attempts
	SettleDelay time.Duration // pause after each sweep before checking the result
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSleep replaces time.Sleep, letting tests run retries instantly.
func WithSleep(sleep func(time.Duration)) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithRemoveFunc replaces os.Remove for single entries.
func WithRemoveFunc(remove func(string) error) Option {
	return func(m *Manager) { m.remove = remove }
}

// Manager creates and removes workspaces under a root directory.
type Manager struct {
	cfg    Config
	logger *logging.Logger
	sleep  func(time.Duration)
	remove func(string) error
}

// NewManager returns a Manager. An empty root or non-positive attempt count
// takes the default; zero delays disable the pauses.
func NewManager(cfg Config, logger *logging.Logger, opts ...Option) *Manager {
	if cfg.Root == "" {
		cfg.Root = defaultRoot
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	cfg.RetryDelay = max(cfg.RetryDelay, 0)
	cfg.SettleDelay = max(cfg.SettleDelay, 0)
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("workspace"),
		sleep:  time.Sleep,
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the directory holding all workspaces.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// Create allocates a unique workspace path for label. The root directory is
// created if needed; the workspace directory itself is left for the fetcher.
func (m *Manager) Create(label string) (Handle, error) {
	if err := os.MkdirAll(m.cfg.Root, 0o755); err != nil {
		return Handle{}, fmt.Errorf("creating workspace root %s: %w", m.cfg.Root, err)
	}
	label = sanitizeLabel(label)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
	return Handle{
		Root:      filepath.Join(m.cfg.Root, label+"_"+suffix),
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Remove deletes the workspace tree. A missing directory counts as removed.
// On failure the returned error is a *RemovalError carrying the last cause.
func (m *Manager) Remove(h Handle) error {
	ctx := context.Background()
	if h.Root == "" {
		return &RemovalError{Path: h.Root, Attempts: 0, Err: errors.New("empty workspace path")}
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		if !h.Exists() {
			return nil
		}

		m.relax(h.Root)
		lastErr = m.sweep(h.Root)
		if m.cfg.SettleDelay > 0 {
			m.sleep(m.cfg.SettleDelay)
		}
		if !h.Exists() {
			m.logger.Debug(ctx, "workspace removed", zap.String("path", h.Root), zap.Int("attempt", attempt))
			return nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("%s still present after sweep", h.Root)
		}

		m.logger.Warn(ctx, "workspace removal attempt failed",
			zap.String("path", h.Root),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < m.cfg.Attempts && m.cfg.RetryDelay > 0 {
			m.sleep(m.cfg.RetryDelay)
		}
	}
	return &RemovalError{Path: h.Root, Attempts: m.cfg.Attempts, Err: lastErr}
}

// relax makes every entry writable by the owner. Errors are ignored; the
// sweep reports what still cannot be removed.
func (m *Manager) relax(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		mode := os.FileMode(0o644)
		if d.IsDir() {
			mode = 0o755
		}
		_ = os.Chmod(path, mode)
		return nil
	})
}

// sweep removes entries children first. An entry that fails is chmodded and
// retried once; sweep returns the last error it could not recover from.
func (m *Manager) sweep(root string) error {
	var paths []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil || path != root {
			paths = append(paths, path)
		}
		return nil
	})
	// deepest first, so directories are empty when reached
	sort.SliceStable(paths, func(i, j int) bool {
		return strings.Count(paths[i], string(filepath.Separator)) > strings.Count(paths[j], string(filepath.Separator))
	})

	var lastErr error
	for _, p := range paths {
		err := m.remove(p)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		_ = os.Chmod(p, 0o777)
		_ = os.Chmod(filepath.Dir(p), 0o777)
		if err := m.remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			lastErr = err
		}
	}
	return lastErr
}

// List returns the workspaces currently under the root.
func (m *Manager) List() ([]Handle, error) {
	entries, err := os.ReadDir(m.cfg.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	var handles []Handle
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		idx := strings.LastIndex(name, "_")
		if idx <= 0 || len(name)-idx-1 != suffixLen {
			continue
		}
		h := Handle{Root: filepath.Join(m.cfg.Root, name), Label: name[:idx]}
		if info, err := e.Info(); err == nil {
			h.CreatedAt = info.ModTime().UTC()
		}
		handles = append(handles, h)
	}
	return handles, nil
}

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeLabel(label string) string {
	label = strings.Trim(unsafeLabel.ReplaceAllString(label, "-"), "-.")
	if label == "" {
		return "repo"
	}
	return label
}

// LabelFromURL derives a readable label from a repository URL: its last
// path segment without a ".git" suffix.
func LabelFromURL(url string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return sanitizeLabel(strings.TrimSuffix(trimmed, ".git"))
}
