// Package local implements memory.Gateway over a vector store.
//
// Facts are embedded and stored as vector documents tagged with the owning
// user. An upsert first looks for the user's nearest existing fact and merges
// into it when the cosine similarity reaches the configured threshold, so a
// repeated observation never grows the user's record count. Search
// over-fetches by similarity and re-ranks with memory.HybridScore.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/warden/pkg/embeddings"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/vector"
)

const (
	metaUserID       = "user_id"
	metaKind         = "kind"
	metaCategory     = "category"
	metaConfidence   = "confidence"
	metaCreatedAt    = "created_at"
	metaUpdatedAt    = "updated_at"
	metaSourceTurnID = "source_turn_id"

	kindFact = "fact"

	// overFetch widens the similarity search before hybrid re-ranking.
	overFetch = 3
)

// Config holds configuration for the local memory gateway.
type Config struct {
	// Threshold is the similarity at or above which an upsert merges.
	// Zero selects memory.DefaultSimilarityThreshold.
	Threshold float64

	// HistoryLimit caps History results. Zero returns everything.
	HistoryLimit int

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Gateway implements memory.Gateway using a vector driver for facts and a
// history store for turns.
type Gateway struct {
	config   Config
	store    vector.VectorDriver
	embedder embeddings.Embedder
	history  memory.HistoryStore
	locks    *memory.UserLocks
	logger   *slog.Logger
}

// New creates a local gateway. The gateway owns the store and history and
// closes them on Close.
func New(store vector.VectorDriver, embedder embeddings.Embedder, history memory.HistoryStore, cfg Config) *Gateway {
	if cfg.Threshold <= 0 {
		cfg.Threshold = memory.DefaultSimilarityThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Gateway{
		config:   cfg,
		store:    store,
		embedder: embedder,
		history:  history,
		locks:    memory.NewUserLocks(),
		logger:   logger,
	}
}

// Upsert stores r, merging into the user's nearest fact when it is
// similar enough.
func (g *Gateway) Upsert(ctx context.Context, r memory.Record) (memory.Record, error) {
	if err := memory.ValidateRecord(r); err != nil {
		return memory.Record{}, err
	}

	unlock := g.locks.Lock(r.UserID)
	defer unlock()

	emb, err := g.embedder.Embed(ctx, r.Text)
	if err != nil {
		return memory.Record{}, fmt.Errorf("embedding fact: %w", err)
	}

	nearest, err := g.store.Query(ctx, emb, 1, userFilter(r.UserID))
	if err != nil {
		return memory.Record{}, fmt.Errorf("searching existing facts: %w", err)
	}

	now := g.config.Now().UTC()
	var stored memory.Record
	if len(nearest) > 0 && float64(nearest[0].Score) >= g.config.Threshold {
		existing := recordFromDocument(nearest[0].Document)
		stored = memory.Merge(existing, r, now)
		g.logger.Debug("merging fact",
			"user_id", r.UserID,
			"record_id", stored.ID,
			"similarity", nearest[0].Score,
		)
	} else {
		stored = r
		stored.ID = uuid.NewString()
		stored.Category = memory.ParseCategory(string(r.Category))
		stored.Confidence = memory.Clamp(r.Confidence)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.Score = 0
		g.logger.Debug("inserting fact", "user_id", r.UserID, "record_id", stored.ID)
	}

	if err := g.store.Add(ctx, []vector.Document{documentFromRecord(stored, emb)}); err != nil {
		return memory.Record{}, fmt.Errorf("storing fact: %w", err)
	}
	return stored, nil
}

// Search returns up to k of the user's facts ranked by hybrid score.
func (g *Gateway) Search(ctx context.Context, userID, query string, k int) ([]memory.Record, error) {
	if k <= 0 || userID == "" {
		return nil, nil
	}

	emb, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := g.store.Query(ctx, emb, k*overFetch, userFilter(userID))
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}

	now := g.config.Now()
	records := make([]memory.Record, 0, len(results))
	for _, res := range results {
		r := recordFromDocument(res.Document)
		r.Score = memory.HybridScore(float64(res.Score), r.UpdatedAt, r.Confidence, now)
		records = append(records, r)
	}

	memory.SortByScore(records)
	if len(records) > k {
		records = records[:k]
	}
	return records, nil
}

// History returns the user's recent turns, oldest first.
func (g *Gateway) History(ctx context.Context, userID string) ([]memory.Turn, error) {
	return g.history.Recent(ctx, userID, g.config.HistoryLimit)
}

// AppendTurn records a completed turn.
func (g *Gateway) AppendTurn(ctx context.Context, t memory.Turn) error {
	return g.history.Append(ctx, t)
}

// Close releases the vector store, embedder and history store.
func (g *Gateway) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{g.store, g.embedder, g.history} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func userFilter(userID string) vector.Filter {
	return vector.Filter{metaUserID: userID, metaKind: kindFact}
}

func documentFromRecord(r memory.Record, emb []float32) vector.Document {
	return vector.Document{
		ID:        r.ID,
		Content:   r.Text,
		Embedding: emb,
		Metadata: map[string]string{
			metaUserID:       r.UserID,
			metaKind:         kindFact,
			metaCategory:     string(r.Category),
			metaConfidence:   strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			metaCreatedAt:    r.CreatedAt.Format(time.RFC3339Nano),
			metaUpdatedAt:    r.UpdatedAt.Format(time.RFC3339Nano),
			metaSourceTurnID: r.SourceTurnID,
		},
	}
}

func recordFromDocument(d vector.Document) memory.Record {
	conf, _ := strconv.ParseFloat(d.Metadata[metaConfidence], 64)
	created, _ := time.Parse(time.RFC3339Nano, d.Metadata[metaCreatedAt])
	updated, _ := time.Parse(time.RFC3339Nano, d.Metadata[metaUpdatedAt])

	return memory.Record{
		ID:           d.ID,
		UserID:       d.Metadata[metaUserID],
		Text:         d.Content,
		Category:     memory.ParseCategory(d.Metadata[metaCategory]),
		Confidence:   conf,
		CreatedAt:    created,
		UpdatedAt:    updated,
		SourceTurnID: d.Metadata[metaSourceTurnID],
	}
}
