// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"

	"github.com/papercomputeco/warden/pkg/embeddings"
	"github.com/papercomputeco/warden/pkg/embeddings/hash"
	"github.com/papercomputeco/warden/pkg/embeddings/ollama"
)

type NewEmbedderOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
	Dimensions   uint

	// CacheEntries enables an in-process embedding cache when positive.
	CacheEntries int64
}

func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	var (
		e   embeddings.Embedder
		err error
	)

	switch o.ProviderType {
	case "ollama":
		e, err = ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
		})
	case "hash":
		e = hash.NewEmbedder(o.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
	if err != nil {
		return nil, err
	}

	if o.CacheEntries > 0 {
		return embeddings.NewCached(e, o.CacheEntries)
	}
	return e, nil
}
