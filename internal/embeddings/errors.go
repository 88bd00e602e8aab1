package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/repochat/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates an unusable provider configuration. It
	// matches config.ErrInvalidConfig.
	ErrInvalidConfig = fmt.Errorf("%w: embeddings", config.ErrInvalidConfig)

	// ErrEmbeddingFailed wraps provider failures.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrFastEmbedNotAvailable is returned by fastembed in binaries built
	// without cgo.
	ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without cgo, use the ollama or openai provider)")
)
