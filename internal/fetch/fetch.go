// Package fetch materializes a remote git repository into a workspace.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

const defaultTimeout = 5 * time.Minute

// ErrFetchFailed is matched by every *FetchError.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError reports a repository that could not be cloned.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFetchFailed) hold for any FetchError.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// Fetcher places the full tree of the repository at url into ws.Root.
type Fetcher interface {
	Fetch(ctx context.Context, url string, ws workspace.Handle) error
}

// Config configures a GitFetcher.
type Config struct {
	Timeout  time.Duration
	Depth    int // 0 clones everything the remote advertises
	Username string
	Token    config.Secret
}

// FromSettings converts the fetch config section.
func FromSettings(s config.FetchConfig) Config {
	return Config{
		Timeout:  s.Timeout.Duration(),
		Depth:    s.Depth,
		Username: s.Username,
		Token:    s.Token,
	}
}

// GitFetcher clones repositories with go-git.
type GitFetcher struct {
	cfg    Config
	logger *logging.Logger
}

var _ Fetcher = (*GitFetcher)(nil)

// NewGitFetcher returns a fetcher. A non-positive timeout takes the default.
func NewGitFetcher(cfg Config, logger *logging.Logger) *GitFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Depth < 0 {
		cfg.Depth = 0
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GitFetcher{cfg: cfg, logger: logger.Named("fetch")}
}

// Fetch clones url into ws.Root, creating the directory.
func (f *GitFetcher) Fetch(ctx context.Context, url string, ws workspace.Handle) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return &FetchError{URL: url, Err: errors.New("empty repository url")}
	}
	if ws.Root == "" {
		return &FetchError{URL: url, Err: errors.New("empty workspace path")}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	opts := &git.CloneOptions{
		URL:   url,
		Depth: f.cfg.Depth,
		Auth:  f.authFor(url),
	}

	start := time.Now()
	f.logger.Info(ctx, "cloning repository",
		zap.String("url", url),
		zap.String("workspace", ws.Root),
		zap.Int("depth", f.cfg.Depth),
		logging.Secret("token", f.cfg.Token))

	if _, err := git.PlainCloneContext(ctx, ws.Root, false, opts); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("clone timed out after %s: %w", f.cfg.Timeout, err)
		}
		f.logger.Warn(ctx, "clone failed", zap.String("url", url), zap.Error(err))
		return &FetchError{URL: url, Err: err}
	}

	f.logger.Info(ctx, "repository cloned",
		zap.String("url", url),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// authFor builds basic auth from the configured token for http(s) remotes.
// Other transports get no auth method.
func (f *GitFetcher) authFor(url string) transport.AuthMethod {
	if !f.cfg.Token.IsSet() {
		return nil
	}
	ep, err := transport.NewEndpoint(url)
	if err != nil || (ep.Protocol != "http" && ep.Protocol != "https") {
		return nil
	}
	user := f.cfg.Username
	if user == "" {
		// token auth ignores the user name but it must be non-empty
		user = "repochat"
	}
	return &http.BasicAuth{Username: user, Password: f.cfg.Token.Value()}
}

// Revision returns the commit hash checked out at dir, or "" when dir is not
// a git repository or has no HEAD.
func Revision(dir string) string {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
