// Package embeddings turns query and fact text into vectors for the
// evidence index and the local memory store.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrEmbedding wraps every failure to produce a vector.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensions means a backend returned a vector of the wrong size for
	// the configured index.
	ErrDimensions = errors.New("embedding dimensions mismatch")
)

// Embedder maps text to a vector. The same text must always map to the
// same vector for a given model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Close() error
}
