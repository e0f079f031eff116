// Package vector provides interfaces and implementations for vector storage.
// The same driver interface backs the read-only evidence index and the
// local memory index.
package vector

import "context"

// Document represents a stored item with its embedding and metadata.
type Document struct {
	// ID is a unique identifier for the document (a chunk id or record id).
	ID string

	// Content is the text the embedding was computed from.
	Content string

	// Embedding is the vector representation of the document content.
	Embedding []float32

	// Metadata holds flat string attributes (source, locator, user_id, ...).
	Metadata map[string]string
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score is the cosine similarity between the query and the document.
	// Every driver reports the same scale: 1 is identical, 0 is orthogonal.
	Score float32
}

// Filter restricts a query to documents whose metadata equals every entry.
type Filter map[string]string

// Matches reports whether metadata satisfies the filter.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// VectorDriver handles storage and retrieval of vector embeddings.
type VectorDriver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should update
	// the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding,
	// ordered by descending score. A nil filter matches everything.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]QueryResult, error)

	// Get retrieves documents by their IDs. Missing IDs are skipped.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
