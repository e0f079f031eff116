// Package retrieve finds evidence passages for a question in the read-only
// document index.
package retrieve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/papercomputeco/warden/pkg/embeddings"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/turn"
	"github.com/papercomputeco/warden/pkg/vector"
)

const (
	defaultTopK         = 12
	defaultMinScore     = 0.3
	defaultMaxPerSource = 4

	// MetaSource is the chunk metadata key naming the source document.
	MetaSource = "source"

	unknownSource = "unknown"
)

// Config holds retrieval tuning.
type Config struct {
	TopK         int
	MinScore     float64
	MaxPerSource int
	Logger       *slog.Logger
}

// Query is one retrieval request.
type Query struct {
	Text string

	// TopK overrides Config.TopK when positive.
	TopK int

	// Sources restricts results to these source documents.
	Sources []string
}

// Retriever queries the evidence index. Results for identical queries over
// an unchanged index are identical and identically ordered.
type Retriever struct {
	config   Config
	index    vector.VectorDriver
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// New creates a Retriever. The index is never written to.
func New(index vector.VectorDriver, embedder embeddings.Embedder, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = defaultMinScore
	}
	if cfg.MaxPerSource <= 0 {
		cfg.MaxPerSource = defaultMaxPerSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Retriever{config: cfg, index: index, embedder: embedder, logger: logger}
}

// Retrieve returns evidence ordered by descending score. An empty result is
// not an error. Index and embedding failures are retrieval faults.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]turn.EvidenceChunk, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []turn.EvidenceChunk{}, nil
	}

	topK := q.TopK
	if topK <= 0 {
		topK = r.config.TopK
	}

	emb, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fault.New(fault.Retrieval, "retrieve.embed", err)
	}

	// Over-fetch so the per-source cap does not starve the result.
	fetch := topK * 2

	var results []vector.QueryResult
	if len(q.Sources) == 0 {
		results, err = r.index.Query(ctx, emb, fetch, nil)
		if err != nil {
			return nil, fault.New(fault.Retrieval, "retrieve.query", err)
		}
	} else {
		seen := make(map[string]struct{})
		for _, src := range q.Sources {
			part, err := r.index.Query(ctx, emb, fetch, vector.Filter{MetaSource: src})
			if err != nil {
				return nil, fault.New(fault.Retrieval, "retrieve.query", err)
			}
			for _, res := range part {
				if _, dup := seen[res.ID]; dup {
					continue
				}
				seen[res.ID] = struct{}{}
				results = append(results, res)
			}
		}
	}

	vector.SortResults(results)

	chunks := make([]turn.EvidenceChunk, 0, topK)
	perSource := make(map[string]int)
	dropped := 0
	for _, res := range results {
		if float64(res.Score) < r.config.MinScore {
			dropped++
			continue
		}
		chunk := chunkFromResult(res)
		if perSource[chunk.SourceID] >= r.config.MaxPerSource {
			continue
		}
		perSource[chunk.SourceID]++
		chunks = append(chunks, chunk)
		if len(chunks) == topK {
			break
		}
	}

	r.logger.Debug("retrieved evidence",
		"query", text,
		"chunks", len(chunks),
		"below_min_score", dropped,
		"sources", len(perSource),
	)
	return chunks, nil
}

// Reformulate builds the query for a corrective retrieval: the normalized
// query plus the first two unsupported claims.
func Reformulate(query string, unsupported []string) string {
	parts := []string{query}
	for i, claim := range unsupported {
		if i == 2 {
			break
		}
		parts = append(parts, claim)
	}
	return strings.Join(parts, " ")
}

func chunkFromResult(res vector.QueryResult) turn.EvidenceChunk {
	source := res.Metadata[MetaSource]
	if source == "" {
		source = unknownSource
	}

	return turn.EvidenceChunk{
		ID:       res.ID,
		SourceID: source,
		Text:     res.Content,
		Score:    float64(res.Score),
		Locator:  locator(res.Metadata),
		Metadata: res.Metadata,
	}
}

func locator(meta map[string]string) string {
	var parts []string
	if p := meta["page"]; p != "" {
		parts = append(parts, "p. "+p)
	}
	if s := meta["section"]; s != "" {
		parts = append(parts, "§ "+s)
	}
	return strings.Join(parts, ", ")
}
