package embeddings

import (
	"context"
	"fmt"
	"sync"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultBatchSize   = 64
)

// LangchainProvider adapts a langchaingo embedder client.
type LangchainProvider struct {
	name     string
	embedder lcembeddings.Embedder

	mu        sync.Mutex
	dimension int
}

// NewLangchainProvider wraps client. A zero dimension is learned from the
// first vector the model returns.
func NewLangchainProvider(name string, client lcembeddings.EmbedderClient, dimension, batchSize int) (*LangchainProvider, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	embedder, err := lcembeddings.NewEmbedder(client,
		lcembeddings.WithBatchSize(batchSize),
		lcembeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &LangchainProvider{name: name, embedder: embedder, dimension: dimension}, nil
}

// NewOllamaProvider embeds with a model served by Ollama.
func NewOllamaProvider(cfg ProviderConfig) (*LangchainProvider, error) {
	model := cfg.Model
	if model == "" || model == DefaultModel {
		model = defaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return NewLangchainProvider("ollama/"+model, client, configuredDimension(cfg, model), cfg.BatchSize)
}

// NewOpenAIProvider embeds with the OpenAI API or a compatible server.
func NewOpenAIProvider(cfg ProviderConfig) (*LangchainProvider, error) {
	if !cfg.APIKey.IsSet() && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai embeddings need an api_key or a base_url", ErrInvalidConfig)
	}
	model := cfg.Model
	if model == "" || model == DefaultModel {
		model = defaultOpenAIModel
	}
	token := cfg.APIKey.Value()
	if token == "" {
		// langchaingo requires a token even for servers that ignore it
		token = "placeholder"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewLangchainProvider("openai/"+model, client, configuredDimension(cfg, model), cfg.BatchSize)
}

func configuredDimension(cfg ProviderConfig, model string) int {
	if dim, ok := DimensionForModel(model); ok {
		return dim
	}
	return cfg.Dimension
}

// EmbedDocuments embeds passages in batches.
func (p *LangchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	p.learnDimension(vectors[0])
	return vectors, nil
}

// EmbedQuery embeds a question.
func (p *LangchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	p.learnDimension(vector)
	return vector, nil
}

func (p *LangchainProvider) learnDimension(v []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimension == 0 {
		p.dimension = len(v)
	}
}

// Dimension returns the vector length, or 0 before the first call when the
// model is unknown.
func (p *LangchainProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

// Name returns "<backend>/<model>".
func (p *LangchainProvider) Name() string { return p.name }

// Close is a no-op; the clients hold no resources beyond HTTP connections.
func (p *LangchainProvider) Close() error { return nil }
