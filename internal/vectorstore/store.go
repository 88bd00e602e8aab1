package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/repochat/internal/config"
)

var (
	// ErrInvalidConfig indicates invalid store configuration. It matches
	// config.ErrInvalidConfig.
	ErrInvalidConfig = fmt.Errorf("%w: vectorstore", config.ErrInvalidConfig)

	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName indicates the name fails validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyDocuments indicates an empty document list was provided.
	ErrEmptyDocuments = errors.New("empty document list")

	// ErrEmptyQuery indicates a blank search query.
	ErrEmptyQuery = errors.New("empty query")

	// ErrInvalidK indicates a non-positive result count.
	ErrInvalidK = errors.New("k must be positive")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

const maxQueryLength = 10000

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a chunk of text to index.
type Document struct {
	// ID is unique within the collection. Adding a document with an
	// existing ID replaces it.
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is a document matched by a query.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32 // cosine similarity, higher is closer
	Metadata map[string]string
}

// Store is a collection-scoped vector index.
type Store interface {
	// AddDocuments embeds and stores docs, creating the collection on
	// first use.
	AddDocuments(ctx context.Context, collection string, docs []Document) error

	// Search returns up to k documents most similar to query, best first.
	// Returns ErrCollectionNotFound for a collection that was never written.
	Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error)

	// Count returns the number of documents in collection, 0 when it does
	// not exist.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteCollection removes collection and its documents. Deleting a
	// missing collection is not an error.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases the backend.
	Close() error
}

// ValidateCollectionName validates a collection name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateQuery(query string, k int) error {
	if query == "" {
		return ErrEmptyQuery
	}
	if len(query) > maxQueryLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", maxQueryLength)
	}
	if k <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	return nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
