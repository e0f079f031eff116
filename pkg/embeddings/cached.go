package embeddings

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes an Embedder. Queries, memory searches and fact upserts
// embed the same strings repeatedly within a turn (the normalized query is
// embedded by retrieval and by the memory search), so the cache saves a
// round trip per repeat.
type Cached struct {
	next  Embedder
	cache *ristretto.Cache
}

// NewCached wraps next with an in-process cache holding roughly maxEntries
// embeddings.
func NewCached(next Embedder, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	return &Cached{next: next, cache: cache}, nil
}

// Embed returns the cached embedding for text, computing it on a miss.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if emb, ok := v.([]float32); ok {
			return emb, nil
		}
	}

	emb, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if c.cache.Set(text, emb, 1) {
		c.cache.Wait()
	}
	return emb, nil
}

// Close closes the cache and the wrapped embedder.
func (c *Cached) Close() error {
	c.cache.Close()
	return c.next.Close()
}

var _ Embedder = (*Cached)(nil)
