package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/repochat/internal/config"
	"github.com/fyrsmithlabs/repochat/internal/logging"
)

// Config selects and configures a backend.
type Config struct {
	Provider string // chromem (default), memory, qdrant
	Chromem  ChromemConfig
	Qdrant   QdrantConfig
}

// FromSettings converts the vectorstore config section.
func FromSettings(s config.VectorStoreConfig) Config {
	return Config{
		Provider: s.Provider,
		Chromem: ChromemConfig{
			Path:     s.Path,
			Compress: s.Compress,
		},
		Qdrant: QdrantConfig{
			Host:   s.QdrantHost,
			Port:   s.QdrantPort,
			APIKey: s.QdrantAPIKey,
			UseTLS: s.QdrantTLS,
		},
	}
}

// NewStore creates the configured Store.
//
// The chromem provider needs no external service and is the default:
//
//	store, err := vectorstore.NewStore(vectorstore.Config{}, embedder, logger)
func NewStore(cfg Config, embedder Embedder, logger *logging.Logger, opts ...Option) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, embedder, logger, opts...)
	case "memory":
		return NewMemoryStore(embedder, logger, opts...)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, embedder, logger, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
