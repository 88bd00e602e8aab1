// Package ingest turns a repository URL into chunk records ready for
// embedding.
//
// A run allocates a workspace, clones into it, selects files and chunks
// them. The workspace is removed when the clone fails and kept otherwise;
// removing it after the records are consumed is the caller's job.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/chunker"
	"github.com/fyrsmithlabs/repochat/internal/fetch"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/repository"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

const instrumentationName = "github.com/fyrsmithlabs/repochat/internal/ingest"

// ErrFetchFailed is returned when the repository could not be cloned. The
// error also unwraps to the *fetch.FetchError that caused it.
var ErrFetchFailed = fetch.ErrFetchFailed

// Metadata describes where a chunk came from. The JSON field names are the
// contract with the indexing stage.
type Metadata struct {
	FileName    string `json:"file_name"`
	FilePath    string `json:"file_path"`
	Language    string `json:"language"`
	Source      string `json:"source"`
	ChunkNumber int    `json:"chunk_number"`
}

// Record is one chunk and its metadata.
type Record struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// RecordFromChunk converts a chunk.
func RecordFromChunk(c chunker.Chunk) Record {
	return Record{
		Text: c.Text,
		Metadata: Metadata{
			FileName:    c.FileName,
			FilePath:    c.FilePath,
			Language:    c.Language,
			Source:      c.Source,
			ChunkNumber: c.Number,
		},
	}
}

// Result is the outcome of a successful run.
type Result struct {
	URL       string           `json:"url"`
	Workspace workspace.Handle `json:"workspace"`
	Revision  string           `json:"revision,omitempty"`
	Records   []Record         `json:"records"`
	Files     int              `json:"files"`
	Skipped   int              `json:"skipped"`
	Duration  time.Duration    `json:"duration"`
}

// Pipeline runs ingestion.
type Pipeline struct {
	workspaces *workspace.Manager
	fetcher    fetch.Fetcher
	collector  *repository.Collector
	splitter   *chunker.Splitter
	extensions []string
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithExtensions replaces the allow-list.
func WithExtensions(exts []string) Option {
	return func(p *Pipeline) { p.extensions = exts }
}

// WithCollector replaces the default collector.
func WithCollector(c *repository.Collector) Option {
	return func(p *Pipeline) { p.collector = c }
}

// WithSplitter replaces the default splitter.
func WithSplitter(s *chunker.Splitter) Option {
	return func(p *Pipeline) { p.splitter = s }
}

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// NewPipeline creates a pipeline over the given workspace manager and fetcher.
func NewPipeline(workspaces *workspace.Manager, fetcher fetch.Fetcher, logger *logging.Logger, opts ...Option) (*Pipeline, error) {
	if workspaces == nil {
		return nil, errors.New("workspace manager is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		workspaces: workspaces,
		fetcher:    fetcher,
		extensions: repository.DefaultExtensions(),
		logger:     logger.Named("ingest"),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.collector == nil {
		p.collector = repository.NewCollector(logger)
	}
	if p.splitter == nil {
		p.splitter = chunker.New()
	}
	return p, nil
}

// Workspaces returns the manager used for allocation, for callers that
// remove workspaces after consuming a result.
func (p *Pipeline) Workspaces() *workspace.Manager {
	return p.workspaces
}

// Ingest fetches url and returns its chunk records in file order, chunks in
// order within each file. Zero matching files is a successful, empty result.
func (p *Pipeline) Ingest(ctx context.Context, url string) (*Result, error) {
	start := time.Now()
	ctx = logging.WithRepository(ctx, url)
	ctx, span := p.tracer.Start(ctx, "ingest.Ingest", trace.WithAttributes(attribute.String("repository.url", url)))
	defer span.End()

	ws, err := p.workspaces.Create(workspace.LabelFromURL(url))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "workspace allocation failed")
		return nil, fmt.Errorf("allocating workspace: %w", err)
	}

	if err := p.fetch(ctx, url, ws); err != nil {
		if rmErr := p.workspaces.Remove(ws); rmErr != nil {
			p.logger.Warn(ctx, "workspace cleanup after failed fetch did not complete",
				zap.String("workspace", ws.Root), zap.Error(rmErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}

	report, err := p.collect(ctx, ws)
	if err != nil {
		if rmErr := p.workspaces.Remove(ws); rmErr != nil {
			p.logger.Warn(ctx, "workspace cleanup after failed collect did not complete",
				zap.String("workspace", ws.Root), zap.Error(rmErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "collect failed")
		return nil, err
	}

	_, chunkSpan := p.tracer.Start(ctx, "ingest.chunk")
	records := make([]Record, 0, len(report.Files))
	for _, f := range report.Files {
		for _, c := range p.splitter.ChunkOf(f) {
			records = append(records, RecordFromChunk(c))
		}
	}
	chunkSpan.SetAttributes(attribute.Int("chunks", len(records)))
	chunkSpan.End()

	res := &Result{
		URL:       url,
		Workspace: ws,
		Revision:  fetch.Revision(ws.Root),
		Records:   records,
		Files:     len(report.Files),
		Skipped:   len(report.Skipped),
		Duration:  time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("files", res.Files),
		attribute.Int("skipped", res.Skipped),
		attribute.Int("chunks", len(records)),
	)
	p.logger.Info(ctx, "repository ingested",
		zap.String("workspace", ws.Root),
		zap.String("revision", res.Revision),
		zap.Int("files", res.Files),
		zap.Int("skipped", res.Skipped),
		zap.Int("chunks", len(records)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) fetch(ctx context.Context, url string, ws workspace.Handle) error {
	ctx, span := p.tracer.Start(ctx, "ingest.fetch")
	defer span.End()

	err := p.fetcher.Fetch(ctx, url, ws)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	var ferr *fetch.FetchError
	if !errors.As(err, &ferr) {
		err = &fetch.FetchError{URL: url, Err: err}
	}
	return err
}

func (p *Pipeline) collect(ctx context.Context, ws workspace.Handle) (repository.Report, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.collect")
	defer span.End()

	report, err := p.collector.CollectReport(ctx, ws.Root, p.extensions)
	if err != nil {
		span.RecordError(err)
		return repository.Report{}, err
	}
	span.SetAttributes(attribute.Int("files", len(report.Files)))
	return report, nil
}
