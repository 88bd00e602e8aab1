package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/chat"
	"github.com/fyrsmithlabs/repochat/internal/chunker"
	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/embeddings"
	"github.com/fyrsmithlabs/repochat/internal/fetch"
	"github.com/fyrsmithlabs/repochat/internal/ignore"
	"github.com/fyrsmithlabs/repochat/internal/index"
	"github.com/fyrsmithlabs/repochat/internal/ingest"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/registry"
	"github.com/fyrsmithlabs/repochat/internal/repository"
	"github.com/fyrsmithlabs/repochat/internal/session"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

// Registry provides access to the wired services.
type Registry interface {
	Config() *config.Config
	Session() *session.Service
	Pipeline() *ingest.Pipeline
	Workspaces() *workspace.Manager
	Runs() *registry.Registry
	VectorStore() vectorstore.Store
	Embedder() embeddings.Provider

	// Close removes the loaded repository's workspace and releases the
	// store, the embedder and the run database.
	Close() error
}

// Options configures the registry with service instances.
type Options struct {
	Config      *config.Config
	Session     *session.Service
	Pipeline    *ingest.Pipeline
	Workspaces  *workspace.Manager
	Runs        *registry.Registry
	VectorStore vectorstore.Store
	Embedder    embeddings.Provider
}

type services struct {
	opts Options
}

// NewRegistry creates a registry over already constructed services.
func NewRegistry(opts Options) Registry {
	return &services{opts: opts}
}

func (s *services) Config() *config.Config         { return s.opts.Config }
func (s *services) Session() *session.Service      { return s.opts.Session }
func (s *services) Pipeline() *ingest.Pipeline     { return s.opts.Pipeline }
func (s *services) Workspaces() *workspace.Manager { return s.opts.Workspaces }
func (s *services) Runs() *registry.Registry       { return s.opts.Runs }
func (s *services) VectorStore() vectorstore.Store { return s.opts.VectorStore }
func (s *services) Embedder() embeddings.Provider  { return s.opts.Embedder }

func (s *services) Close() error {
	var errs []error
	if s.opts.Session != nil {
		if err := s.opts.Session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing session: %w", err))
		}
	}
	if s.opts.VectorStore != nil {
		if err := s.opts.VectorStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vector store: %w", err))
		}
	}
	if s.opts.Embedder != nil {
		if err := s.opts.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedder: %w", err))
		}
	}
	if s.opts.Runs != nil {
		if err := s.opts.Runs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing run registry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// BuildOption overrides a component Build would otherwise construct from
// config.
type BuildOption func(*builder)

type builder struct {
	embedder embeddings.Provider
	model    llms.Model
	fetcher  fetch.Fetcher
	noRuns   bool
}

// WithEmbedder uses p instead of the configured embedding provider.
func WithEmbedder(p embeddings.Provider) BuildOption {
	return func(b *builder) { b.embedder = p }
}

// WithModel uses m instead of the configured language model.
func WithModel(m llms.Model) BuildOption {
	return func(b *builder) { b.model = m }
}

// WithFetcher uses f instead of cloning with go-git.
func WithFetcher(f fetch.Fetcher) BuildOption {
	return func(b *builder) { b.fetcher = f }
}

// WithoutRunRegistry skips opening the run database.
func WithoutRunRegistry() BuildOption {
	return func(b *builder) { b.noRuns = true }
}

// Build constructs every service from cfg. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...BuildOption) (reg Registry, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", config.ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	o := Options{Config: cfg}
	defer func() {
		if err != nil {
			if cerr := NewRegistry(o).Close(); cerr != nil {
				logger.Warn(ctx, "cleanup after failed build", zap.Error(cerr))
			}
		}
	}()

	o.Embedder = b.embedder
	if o.Embedder == nil {
		o.Embedder, err = embeddings.NewProvider(embeddings.FromSettings(cfg.Embeddings), logger)
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	store, err := vectorstore.NewStore(vectorstore.FromSettings(cfg.VectorStore), o.Embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	o.VectorStore = store

	model := b.model
	if model == nil {
		model, err = chat.NewModel(chat.ModelFromSettings(cfg.LLM))
		if err != nil {
			return nil, fmt.Errorf("creating language model: %w", err)
		}
	}

	o.Pipeline, err = NewPipeline(cfg, logger, b.fetcher)
	if err != nil {
		return nil, err
	}
	o.Workspaces = o.Pipeline.Workspaces()

	indexer, err := index.New(o.VectorStore, index.Config{
		BatchSize:     cfg.Embeddings.BatchSize,
		Redact:        cfg.Secrets.Enabled,
		UserAllowlist: cfg.Secrets.UserAllowlist,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating indexer: %w", err)
	}

	agent, err := chat.NewAgent(o.VectorStore, model, chat.Config{
		K:             cfg.Chat.TopK,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		SnippetLength: cfg.Chat.SnippetLength,
		MaxHistory:    cfg.Chat.MaxHistory,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat agent: %w", err)
	}

	if !b.noRuns {
		runs, err := registry.Open(cfg.Registry.Path)
		if err != nil {
			return nil, fmt.Errorf("opening run registry: %w", err)
		}
		o.Runs = runs
	}

	o.Session, err = session.New(o.Pipeline, indexer, agent, o.Runs, session.Config{
		MaxHistory: cfg.Chat.MaxHistory,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	logger.Info(ctx, "services ready",
		zap.String("embeddings", o.Embedder.Name()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.String("workspace_root", o.Workspaces.Root()))
	return NewRegistry(o), nil
}

// NewWorkspaces returns the workspace manager described by cfg.
func NewWorkspaces(cfg *config.Config, logger *logging.Logger) *workspace.Manager {
	return workspace.NewManager(workspace.Config{
		Root:        cfg.Workspace.Root,
		Attempts:    cfg.Workspace.RemoveAttempts,
		RetryDelay:  cfg.Workspace.RetryDelay.Duration(),
		SettleDelay: cfg.Workspace.SettleDelay.Duration(),
	}, logger)
}

// NewPipeline builds the ingestion pipeline alone, for callers that never
// embed or chat. A nil fetcher clones with go-git.
func NewPipeline(cfg *config.Config, logger *logging.Logger, fetcher fetch.Fetcher) (*ingest.Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", config.ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if fetcher == nil {
		fetcher = fetch.NewGitFetcher(fetch.FromSettings(cfg.Fetch), logger)
	}

	collectorOpts := []repository.CollectorOption{
		repository.WithMaxFileSize(cfg.Ingest.MaxFileSize),
	}
	if len(cfg.Ingest.SkipDirs) > 0 {
		collectorOpts = append(collectorOpts,
			repository.WithSkipDirs(append(repository.DefaultSkipDirs(), cfg.Ingest.SkipDirs...)))
	}
	if cfg.Ingest.RespectIgnoreFiles {
		collectorOpts = append(collectorOpts, repository.WithIgnoreParser(ignore.NewParser(nil, nil)))
	}
	opts := []ingest.Option{
		ingest.WithCollector(repository.NewCollector(logger, collectorOpts...)),
		ingest.WithSplitter(chunker.New(
			chunker.WithChunkSize(cfg.Ingest.ChunkSize),
			chunker.WithOverlap(cfg.Ingest.ChunkOverlap),
		)),
	}
	if len(cfg.Ingest.Extensions) > 0 {
		opts = append(opts, ingest.WithExtensions(cfg.Ingest.Extensions))
	}
	p, err := ingest.NewPipeline(NewWorkspaces(cfg, logger), fetcher, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}
	return p, nil
}
