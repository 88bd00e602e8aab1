package embeddings

import (
	"context"
	"strings"
	"sync"
)

const testDimension = 27

// TestEmbedder is a deterministic Provider for tests. A text's vector counts
// its letters a-z plus one constant component, so texts sharing words land
// close together without any model download.
type TestEmbedder struct {
	mu      sync.Mutex
	Err     error // returned by every call when set
	Calls   int
	Queries []string
}

// NewTestEmbedder returns a ready TestEmbedder.
func NewTestEmbedder() *TestEmbedder {
	return &TestEmbedder{}
}

// EmbedDocuments embeds each text.
func (e *TestEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = letterVector(t)
	}
	return out, nil
}

// EmbedQuery embeds a query.
func (e *TestEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls++
	e.Queries = append(e.Queries, text)
	if e.Err != nil {
		return nil, e.Err
	}
	return letterVector(text), nil
}

// Dimension returns the vector length.
func (e *TestEmbedder) Dimension() int { return testDimension }

// Name identifies the embedder.
func (e *TestEmbedder) Name() string { return "test/letters" }

// Close does nothing.
func (e *TestEmbedder) Close() error { return nil }

func letterVector(text string) []float32 {
	v := make([]float32, testDimension)
	v[testDimension-1] = 1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}
