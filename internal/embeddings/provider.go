package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/logging"
)

// DefaultModel matches the sentence-transformers model used for chunk
// retrieval.
const DefaultModel = "sentence-transformers/all-MiniLM-L6-v2"

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder that owns resources.
type Provider interface {
	Embedder
	// Dimension returns the vector length produced by the model.
	Dimension() int
	// Name identifies the provider and model, for metrics and logs.
	Name() string
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating a provider.
type ProviderConfig struct {
	Provider  string // fastembed, ollama, openai
	Model     string
	BaseURL   string
	APIKey    config.Secret
	CacheDir  string
	Dimension int
	BatchSize int
}

// FromSettings converts the embeddings config section.
func FromSettings(s config.EmbeddingsConfig) ProviderConfig {
	return ProviderConfig{
		Provider:  s.Provider,
		Model:     s.Model,
		BaseURL:   s.BaseURL,
		APIKey:    s.APIKey,
		CacheDir:  s.CacheDir,
		Dimension: s.Dimension,
		BatchSize: s.BatchSize,
	}
}

// NewProvider creates the configured provider wrapped with metrics.
func NewProvider(cfg ProviderConfig, logger *logging.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "fastembed", "":
		model := cfg.Model
		if model == "" {
			model = DefaultModel
		}
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:     model,
			CacheDir:  cfg.CacheDir,
			BatchSize: cfg.BatchSize,
		})
	case "ollama":
		p, err = NewOllamaProvider(cfg)
	case "openai":
		p, err = NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(p, logger), nil
}

// DimensionForModel returns the vector length of well-known models and
// whether the model was recognized.
func DimensionForModel(model string) (int, bool) {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-small-en":                      384,
		"BAAI/bge-base-en-v1.5":                  768,
		"BAAI/bge-base-en":                       768,
		"BAAI/bge-small-zh-v1.5":                 512,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
		"all-minilm":                             384,
		"nomic-embed-text":                       768,
		"mxbai-embed-large":                      1024,
		"text-embedding-3-small":                 1536,
		"text-embedding-3-large":                 3072,
		"text-embedding-ada-002":                 1536,
	}
	dim, ok := dims[model]
	return dim, ok
}
