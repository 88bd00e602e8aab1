// Package chat answers questions about an indexed repository.
//
// An Agent retrieves the chunks closest to the question from the
// repository's collection, renders them with the conversation so far into
// a prompt and asks a langchaingo model for the answer. The retrieved
// chunks come back as sources alongside the answer text.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repochat/internal/index"
	"github.com/fyrsmithlabs/repochat/internal/logging"
	"github.com/fyrsmithlabs/repochat/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/repochat/internal/chat"

// Defaults for Config.
const (
	DefaultK             = 5
	DefaultTemperature   = 0.1
	DefaultMaxTokens     = 512
	DefaultSnippetLength = 200
	DefaultMaxHistory    = 20
)

var (
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrGenerationFailed wraps model errors.
	ErrGenerationFailed = errors.New("answer generation failed")
)

// Role identifies who produced a turn.
type Role string

// Turn roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Source is a retrieved chunk backing an answer.
type Source struct {
	FilePath    string  `json:"file_path"`
	Language    string  `json:"language"`
	ChunkNumber int     `json:"chunk_number"`
	Score       float32 `json:"score"`
	Snippet     string  `json:"snippet"`
}

// Answer is the model's reply and the chunks it was given.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Config tunes retrieval and generation.
type Config struct {
	K             int
	Temperature   float64
	MaxTokens     int
	SnippetLength int
	MaxHistory    int // turns rendered into the prompt
	Template      string
}

func (c *Config) applyDefaults() {
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.SnippetLength <= 0 {
		c.SnippetLength = DefaultSnippetLength
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
}

// Option customizes an Agent.
type Option func(*Agent)

// WithTracer sets the tracer used for chat spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) { a.tracer = t }
}

// Agent answers questions with retrieval-augmented generation. It holds no
// conversation state; callers pass the history in.
type Agent struct {
	store  vectorstore.Store
	model  llms.Model
	prompt prompts.PromptTemplate
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer
}

// NewAgent returns an Agent over store and model.
func NewAgent(store vectorstore.Store, model llms.Model, cfg Config, logger *logging.Logger, opts ...Option) (*Agent, error) {
	if store == nil {
		return nil, errors.New("chat: store is required")
	}
	if model == nil {
		return nil, errors.New("chat: model is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.applyDefaults()
	a := &Agent{
		store:  store,
		model:  model,
		prompt: NewPrompt(cfg.Template),
		cfg:    cfg,
		logger: logger.Named("chat"),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// K returns the number of chunks retrieved per question.
func (a *Agent) K() int { return a.cfg.K }

// Ask answers question using the chunks in collection and the earlier
// turns in history.
func (a *Agent) Ask(ctx context.Context, collection, question string, history []Turn) (*Answer, error) {
	ctx, span := a.tracer.Start(ctx, "chat.Ask", trace.WithAttributes(
		attribute.String("collection", collection),
		attribute.Int("history_turns", len(history)),
	))
	defer span.End()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	results, err := a.store.Search(ctx, collection, question, a.cfg.K)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	prompt, err := a.prompt.Format(map[string]any{
		VarChatHistory: formatHistory(history, a.cfg.MaxHistory),
		VarContext:     formatContext(results),
		VarQuestion:    question,
	})
	if err != nil {
		return nil, fmt.Errorf("formatting prompt: %w", err)
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, a.model, prompt,
		llms.WithTemperature(a.cfg.Temperature),
		llms.WithMaxTokens(a.cfg.MaxTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn(ctx, "answer generation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	answer := &Answer{
		Text:    strings.TrimSpace(text),
		Sources: a.sources(results),
	}
	span.SetAttributes(attribute.Int("sources", len(answer.Sources)))
	span.SetStatus(codes.Ok, "answered")
	a.logger.Info(ctx, "question answered",
		zap.String("collection", collection),
		zap.Int("sources", len(answer.Sources)),
		zap.Duration("generation", time.Since(start)))
	return answer, nil
}

// Search returns the k chunks of collection closest to query, without
// calling the model. A non-positive k uses the configured K.
func (a *Agent) Search(ctx context.Context, collection, query string, k int) ([]Source, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = a.cfg.K
	}
	results, err := a.store.Search(ctx, collection, query, k)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	return a.sources(results), nil
}

func (a *Agent) sources(results []vectorstore.SearchResult) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		m := index.MetadataFromDocument(r.Metadata)
		out[i] = Source{
			FilePath:    m.FilePath,
			Language:    m.Language,
			ChunkNumber: m.ChunkNumber,
			Score:       r.Score,
			Snippet:     snippet(r.Content, a.cfg.SnippetLength),
		}
	}
	return out
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
