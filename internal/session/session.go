// Package session holds the repository a user is currently chatting with.
//
// A Service loads one repository at a time: it fetches and chunks it,
// indexes the chunks, records the run and starts a fresh conversation.
// Questions are answered against the loaded repository with the
// conversation so far as context.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/chat"
	"github.com/fyrsmithlabs/repochat/internal/index"
	"github.com/fyrsmithlabs/repochat/internal/ingest"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/registry"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

var (
	// ErrNoFiles is returned when a repository yields no chunks, either
	// because no file matched the allow-list or all matches were empty.
	ErrNoFiles = errors.New("no matching files found in repository")

	// ErrNoRepository is returned by Ask before any repository is loaded.
	ErrNoRepository = errors.New("no repository loaded")

	// ErrEmptyURL is returned by Load for a blank URL.
	ErrEmptyURL = errors.New("repository url is required")
)

// Repository describes the loaded repository.
type Repository struct {
	URL        string           `json:"url"`
	Collection string           `json:"collection"`
	RunID      string           `json:"run_id,omitempty"`
	Workspace  workspace.Handle `json:"workspace"`
	Revision   string           `json:"revision,omitempty"`
	Files      int              `json:"files"`
	Chunks     int              `json:"chunks"`
	LoadedAt   time.Time        `json:"loaded_at"`
}

// LoadResult is returned by Load.
type LoadResult struct {
	Repository
	Skipped  int           `json:"skipped"`
	Redacted int           `json:"redacted"`
	Duration time.Duration `json:"duration"`
}

// Config configures a Service.
type Config struct {
	// MaxHistory bounds the turns kept; older turns are dropped. Zero
	// keeps everything.
	MaxHistory int
}

// Service is safe for concurrent use. Loads are serialized; questions may
// run while a load is in progress and see the previous repository until
// the new one is fully indexed.
type Service struct {
	pipeline *ingest.Pipeline
	indexer  *index.Indexer
	agent    *chat.Agent
	registry *registry.Registry
	cfg      Config
	logger   *logging.Logger

	loadMu sync.Mutex

	mu         sync.RWMutex
	current    *Repository
	history    []chat.Turn
	generation uint64 // bumped by every successful load
}

// New creates a Service. reg may be nil to skip run recording.
func New(pipeline *ingest.Pipeline, indexer *index.Indexer, agent *chat.Agent, reg *registry.Registry, cfg Config, logger *logging.Logger) (*Service, error) {
	if pipeline == nil || indexer == nil || agent == nil {
		return nil, errors.New("session: pipeline, indexer and agent are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		pipeline: pipeline,
		indexer:  indexer,
		agent:    agent,
		registry: reg,
		cfg:      cfg,
		logger:   logger.Named("session"),
	}, nil
}

// Load replaces the current repository with the one at url. The previous
// repository's workspace is removed once the new one is current; a removal
// failure is logged and does not fail the load. On any error the previous
// repository stays current for questions, workspace included.
func (s *Service) Load(ctx context.Context, url string) (*LoadResult, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrEmptyURL
	}
	ctx = logging.WithRepository(ctx, url)

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	res, err := s.pipeline.Ingest(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		s.discard(ctx, res.Workspace)
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, url)
	}

	collection := vectorstore.CollectionName(url)
	stats, err := s.indexer.Index(ctx, collection, res.Workspace, res.Records)
	if err != nil {
		s.discard(ctx, res.Workspace)
		return nil, fmt.Errorf("indexing %s: %w", url, err)
	}

	repo := Repository{
		URL:        url,
		Collection: collection,
		Workspace:  res.Workspace,
		Revision:   res.Revision,
		Files:      res.Files,
		Chunks:     len(res.Records),
		LoadedAt:   time.Now().UTC(),
	}
	if s.registry != nil {
		run, err := s.registry.Record(ctx, registry.Run{
			URL:           url,
			Collection:    collection,
			WorkspacePath: res.Workspace.Root,
			Revision:      res.Revision,
			Files:         res.Files,
			Chunks:        len(res.Records),
			Redacted:      stats.Redacted,
			CreatedAt:     repo.LoadedAt,
		})
		if err != nil {
			s.logger.Warn(ctx, "recording run failed", zap.Error(err))
		} else {
			repo.RunID = run.ID
		}
	}

	s.mu.Lock()
	previous := s.current
	s.current = &repo
	s.history = nil
	s.generation++
	s.mu.Unlock()

	s.releaseWorkspace(ctx, previous)

	s.logger.Info(ctx, "repository loaded",
		zap.String("collection", collection),
		zap.Int("files", repo.Files),
		zap.Int("chunks", repo.Chunks))
	return &LoadResult{
		Repository: repo,
		Skipped:    res.Skipped,
		Redacted:   stats.Redacted,
		Duration:   res.Duration + stats.Duration,
	}, nil
}

// Ask answers question about the current repository and appends the
// exchange to the history.
func (s *Service) Ask(ctx context.Context, question string) (*chat.Answer, error) {
	s.mu.RLock()
	repo := s.current
	generation := s.generation
	history := append([]chat.Turn(nil), s.history...)
	s.mu.RUnlock()

	if repo == nil {
		return nil, ErrNoRepository
	}

	asked := time.Now().UTC()
	answer, err := s.agent.Ask(ctx, repo.Collection, question, history)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a load finished meanwhile, possibly of the same url; the exchange
	// belongs to the replaced conversation
	if s.generation != generation {
		return answer, nil
	}
	s.history = append(s.history,
		chat.Turn{Role: chat.RoleUser, Content: strings.TrimSpace(question), At: asked},
		chat.Turn{Role: chat.RoleAssistant, Content: answer.Text, At: time.Now().UTC()},
	)
	if limit := s.cfg.MaxHistory; limit > 0 && len(s.history) > limit {
		s.history = append([]chat.Turn(nil), s.history[len(s.history)-limit:]...)
	}
	return answer, nil
}

// Search returns the chunks of the current repository closest to query.
func (s *Service) Search(ctx context.Context, query string, k int) ([]chat.Source, error) {
	repo := s.Current()
	if repo == nil {
		return nil, ErrNoRepository
	}
	return s.agent.Search(ctx, repo.Collection, query, k)
}

// History returns a copy of the conversation, oldest first.
func (s *Service) History() []chat.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Turn{}, s.history...)
}

// Current returns the loaded repository, or nil.
func (s *Service) Current() *Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	repo := *s.current
	return &repo
}

// Close removes the current repository's workspace. The index is kept.
func (s *Service) Close() error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	repo := s.Current()
	if repo == nil {
		return nil
	}
	ctx := logging.WithRepository(context.Background(), repo.URL)
	var errs []error
	if err := s.pipeline.Workspaces().Remove(repo.Workspace); err != nil {
		errs = append(errs, err)
	} else if err := s.markRemoved(ctx, repo.RunID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// releaseWorkspace removes the workspace of a replaced repository.
func (s *Service) releaseWorkspace(ctx context.Context, repo *Repository) {
	if repo == nil {
		return
	}
	if err := s.pipeline.Workspaces().Remove(repo.Workspace); err != nil {
		s.logger.Warn(ctx, "previous workspace could not be removed",
			zap.String("workspace", repo.Workspace.Root), zap.Error(err))
		return
	}
	if err := s.markRemoved(ctx, repo.RunID); err != nil {
		s.logger.Warn(ctx, "marking run removed failed", zap.Error(err))
	}
}

// discard removes the workspace of a load that did not complete.
func (s *Service) discard(ctx context.Context, ws workspace.Handle) {
	if err := s.pipeline.Workspaces().Remove(ws); err != nil {
		s.logger.Warn(ctx, "workspace of failed load could not be removed",
			zap.String("workspace", ws.Root), zap.Error(err))
	}
}

func (s *Service) markRemoved(ctx context.Context, runID string) error {
	if s.registry == nil || runID == "" {
		return nil
	}
	return s.registry.MarkRemoved(ctx, runID)
}
