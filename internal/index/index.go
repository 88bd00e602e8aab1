// Package index writes ingestion records into a vector store collection.
//
// Each record's text passes through the secret redactor first, using the
// fetched repository's own .gitleaks.toml as an allowlist when present.
// Records are added in fixed-size batches so a large repository never
// builds a single huge embedding request.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/ingest"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/secrets"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
	"github.com/fyrsmithlabs/repochat/internal/workspace"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/repochat/internal/index"

	// DefaultBatchSize is the number of records added per store call.
	DefaultBatchSize = 64
)

// Metadata keys written with every document.
const (
	KeyFileName    = "file_name"
	KeyFilePath    = "file_path"
	KeyLanguage    = "language"
	KeySource      = "source"
	KeyChunkNumber = "chunk_number"
)

// ErrNoRecords is returned when Index is called with nothing to add.
var ErrNoRecords = errors.New("no records to index")

// Config configures an Indexer.
type Config struct {
	BatchSize int

	// Redact enables secret redaction of record text.
	Redact bool

	// UserAllowlist is an optional gitleaks allowlist file applied on top
	// of each repository's own.
	UserAllowlist string
}

// Stats summarizes one Index call.
type Stats struct {
	Collection string         `json:"collection"`
	Documents  int            `json:"documents"`
	Batches    int            `json:"batches"`
	Redacted   int            `json:"redacted"` // documents with at least one finding
	ByRule     map[string]int `json:"by_rule,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// Option customizes an Indexer.
type Option func(*Indexer)

// WithTracer sets the tracer used for index spans.
func WithTracer(t trace.Tracer) Option {
	return func(ix *Indexer) { ix.tracer = t }
}

// Indexer adds ingestion records to a store.
type Indexer struct {
	store  vectorstore.Store
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer
}

// New returns an Indexer writing to store.
func New(store vectorstore.Store, cfg Config, logger *logging.Logger, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("index: store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ix := &Indexer{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("index"),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Index replaces the contents of collection with records. ws is the
// workspace the records were read from; its .gitleaks.toml, if any, feeds
// the redaction allowlist.
func (ix *Indexer) Index(ctx context.Context, collection string, ws workspace.Handle, records []ingest.Record) (*Stats, error) {
	ctx, span := ix.tracer.Start(ctx, "index.Index", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("records", len(records)),
	))
	defer span.End()

	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	start := time.Now()

	redactor, err := secrets.NewRedactor(secrets.Options{
		Enabled:       ix.cfg.Redact,
		ProjectDir:    ws.Root,
		UserAllowlist: ix.cfg.UserAllowlist,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("creating redactor: %w", err)
	}

	// stale chunks from an earlier load of the same repository must not
	// survive the reload
	if err := ix.store.DeleteCollection(ctx, collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resetting collection: %w", err)
	}

	stats := &Stats{Collection: collection}
	docs := make([]vectorstore.Document, 0, len(records))
	for _, rec := range records {
		doc, res := toDocument(rec, redactor)
		if res.HasFindings() {
			stats.Redacted++
			if stats.ByRule == nil {
				stats.ByRule = make(map[string]int)
			}
			for rule, n := range res.ByRule {
				stats.ByRule[rule] += n
			}
			ix.logger.Warn(ctx, "secrets redacted from chunk",
				zap.String("file_path", rec.Metadata.FilePath),
				zap.Int("chunk_number", rec.Metadata.ChunkNumber),
				zap.Int("findings", len(res.Findings)))
		}
		docs = append(docs, doc)
	}

	for lo := 0; lo < len(docs); lo += ix.cfg.BatchSize {
		hi := min(lo+ix.cfg.BatchSize, len(docs))
		if err := ix.store.AddDocuments(ctx, collection, docs[lo:hi]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("adding batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		stats.Documents += hi - lo
	}

	stats.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("documents", stats.Documents),
		attribute.Int("redacted", stats.Redacted),
	)
	span.SetStatus(codes.Ok, "indexed")
	ix.logger.Info(ctx, "repository indexed",
		zap.String("collection", collection),
		zap.Int("documents", stats.Documents),
		zap.Int("batches", stats.Batches),
		zap.Int("redacted", stats.Redacted),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// DocumentID identifies a chunk within its collection.
func DocumentID(m ingest.Metadata) string {
	return m.FilePath + "#" + strconv.Itoa(m.ChunkNumber)
}

func toDocument(rec ingest.Record, redactor *secrets.Redactor) (vectorstore.Document, secrets.Result) {
	res := redactor.Redact(rec.Metadata.FilePath, rec.Text)
	return vectorstore.Document{
		ID:      DocumentID(rec.Metadata),
		Content: res.Content,
		Metadata: map[string]string{
			KeyFileName:    rec.Metadata.FileName,
			KeyFilePath:    rec.Metadata.FilePath,
			KeyLanguage:    rec.Metadata.Language,
			KeySource:      rec.Metadata.Source,
			KeyChunkNumber: strconv.Itoa(rec.Metadata.ChunkNumber),
		},
	}, res
}

// MetadataFromDocument reverses the metadata conversion done at index time.
func MetadataFromDocument(m map[string]string) ingest.Metadata {
	n, _ := strconv.Atoi(m[KeyChunkNumber])
	return ingest.Metadata{
		FileName:    m[KeyFileName],
		FilePath:    m[KeyFilePath],
		Language:    m[KeyLanguage],
		Source:      m[KeySource],
		ChunkNumber: n,
	}
}
