// Package hosted implements memory.Gateway against a hosted semantic-memory
// service speaking the mem0 platform REST API.
//
// The service indexes writes asynchronously, so a fact added now may not be
// returned by a search issued a moment later. Every write is therefore also
// kept in a short-lived per-user ristretto cache that Search and Upsert
// consult alongside the remote results.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/papercomputeco/warden/pkg/embeddings/hash"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/utils"
	"github.com/papercomputeco/warden/pkg/vector"
)

const (
	defaultBaseURL  = "https://api.mem0.ai"
	defaultCacheTTL = 5 * time.Minute
	defaultTimeout  = 30 * time.Second

	metaCategory     = "category"
	metaConfidence   = "confidence"
	metaSourceTurnID = "source_turn_id"
)

// Config holds configuration for the hosted memory gateway.
type Config struct {
	BaseURL string
	APIKey  string

	// Threshold is the similarity at or above which an upsert updates the
	// existing memory. Zero selects memory.DefaultSimilarityThreshold.
	Threshold float64

	// CacheTTL bounds how long recent writes are served locally.
	CacheTTL time.Duration

	// HistoryLimit caps History results. Zero returns everything.
	HistoryLimit int

	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// Gateway implements memory.Gateway over the hosted service.
type Gateway struct {
	config  Config
	client  *http.Client
	history memory.HistoryStore
	recent  *ristretto.Cache
	locks   *memory.UserLocks
	lexical *hash.Embedder
	logger  *slog.Logger
}

// New creates a hosted gateway. An API key is required.
func New(cfg Config, history memory.HistoryStore) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("hosted memory API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Threshold <= 0 {
		cfg.Threshold = memory.DefaultSimilarityThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	recent, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating recent-writes cache: %w", err)
	}

	return &Gateway{
		config:  cfg,
		client:  client,
		history: history,
		recent:  recent,
		locks:   memory.NewUserLocks(),
		lexical: hash.NewEmbedder(256),
		logger:  logger,
	}, nil
}

// remoteMemory is a memory as returned by the service.
type remoteMemory struct {
	ID        string            `json:"id"`
	Memory    string            `json:"memory"`
	UserID    string            `json:"user_id"`
	Score     float64           `json:"score"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type addRequest struct {
	Messages []message         `json:"messages"`
	UserID   string            `json:"user_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Infer    bool              `json:"infer"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type addResult struct {
	ID    string `json:"id"`
	Event string `json:"event"`
}

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

type updateRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Upsert stores r, updating the user's closest memory when it is similar
// enough.
func (g *Gateway) Upsert(ctx context.Context, r memory.Record) (memory.Record, error) {
	if err := memory.ValidateRecord(r); err != nil {
		return memory.Record{}, err
	}

	unlock := g.locks.Lock(r.UserID)
	defer unlock()

	candidates, err := g.similar(ctx, r.UserID, r.Text, 1)
	if err != nil {
		return memory.Record{}, err
	}

	now := g.config.Now().UTC()
	var stored memory.Record
	if len(candidates) > 0 && candidates[0].Score >= g.config.Threshold {
		stored = memory.Merge(candidates[0], r, now)
		body := updateRequest{Text: stored.Text, Metadata: metadataFor(stored)}
		if _, err := g.do(ctx, http.MethodPut, "/v1/memories/"+stored.ID+"/", body); err != nil {
			return memory.Record{}, fmt.Errorf("updating memory: %w", err)
		}
		g.logger.Debug("updated hosted memory", "user_id", r.UserID, "record_id", stored.ID)
	} else {
		stored = r
		stored.Category = memory.ParseCategory(string(r.Category))
		stored.Confidence = memory.Clamp(r.Confidence)
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.Score = 0

		body := addRequest{
			Messages: []message{{Role: "user", Content: r.Text}},
			UserID:   r.UserID,
			Metadata: metadataFor(stored),
		}
		resp, err := g.do(ctx, http.MethodPost, "/v1/memories/", body)
		if err != nil {
			return memory.Record{}, fmt.Errorf("adding memory: %w", err)
		}
		id, err := addedID(resp)
		if err != nil {
			return memory.Record{}, err
		}
		stored.ID = id
		g.logger.Debug("added hosted memory", "user_id", r.UserID, "record_id", stored.ID)
	}

	g.remember(stored)
	return stored, nil
}

// Search returns up to k of the user's memories ranked by hybrid score,
// including writes the service has not indexed yet.
func (g *Gateway) Search(ctx context.Context, userID, query string, k int) ([]memory.Record, error) {
	if k <= 0 || userID == "" {
		return nil, nil
	}

	records, err := g.similar(ctx, userID, query, k)
	if err != nil {
		return nil, err
	}

	now := g.config.Now()
	for i := range records {
		records[i].Score = memory.HybridScore(records[i].Score, records[i].UpdatedAt, records[i].Confidence, now)
	}
	memory.SortByScore(records)
	if len(records) > k {
		records = records[:k]
	}
	return records, nil
}

// similar returns candidates scored by raw similarity, best first. Cached
// recent writes replace their remote copies and fill in unindexed ones.
func (g *Gateway) similar(ctx context.Context, userID, query string, k int) ([]memory.Record, error) {
	resp, err := g.do(ctx, http.MethodPost, "/v1/memories/search/", searchRequest{
		Query:  query,
		UserID: userID,
		Limit:  k,
	})
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	var remote []remoteMemory
	if err := decodeList(resp, &remote); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}

	byID := make(map[string]int, len(remote))
	records := make([]memory.Record, 0, len(remote))
	for _, m := range remote {
		byID[m.ID] = len(records)
		records = append(records, recordFromRemote(m, userID))
	}

	for _, cached := range g.cached(userID) {
		cached.Score = g.lexicalSimilarity(ctx, query, cached.Text)
		if i, ok := byID[cached.ID]; ok {
			cached.Score = max(cached.Score, records[i].Score)
			records[i] = cached
			continue
		}
		records = append(records, cached)
	}

	memory.SortByScore(records)
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

// Close releases the cache and the history store.
func (g *Gateway) Close() error {
	g.recent.Close()
	return g.history.Close()
}

// remember caches stored for read-your-writes. Callers hold the user lock.
func (g *Gateway) remember(stored memory.Record) {
	records := g.cached(stored.UserID)
	replaced := false
	for i := range records {
		if records[i].ID == stored.ID {
			records[i] = stored
			replaced = true
		}
	}
	if !replaced {
		records = append(records, stored)
	}

	if g.recent.SetWithTTL(stored.UserID, records, 1, g.config.CacheTTL) {
		g.recent.Wait()
	}
}

func (g *Gateway) cached(userID string) []memory.Record {
	v, ok := g.recent.Get(userID)
	if !ok {
		return nil
	}
	records, _ := v.([]memory.Record)
	return append([]memory.Record(nil), records...)
}

func (g *Gateway) lexicalSimilarity(ctx context.Context, a, b string) float64 {
	va, _ := g.lexical.Embed(ctx, a)
	vb, _ := g.lexical.Embed(ctx, b)
	return float64(vector.Cosine(va, vb))
}

func (g *Gateway) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+g.config.APIKey)
	req.Header.Set("User-Agent", utils.UserAgent())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("memory API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// decodeList accepts either a bare JSON array or an object wrapping it in
// "results", since the service returns both shapes across API versions.
func decodeList[T any](body []byte, out *[]T) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}

	var wrapped struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	*out = wrapped.Results
	return nil
}

func addedID(body []byte) (string, error) {
	var results []addResult
	if err := decodeList(body, &results); err != nil {
		return "", fmt.Errorf("decoding add response: %w", err)
	}
	for _, r := range results {
		if r.ID != "" {
			return r.ID, nil
		}
	}
	return "", errors.New("memory API returned no id for added memory")
}

func metadataFor(r memory.Record) map[string]string {
	return map[string]string{
		metaCategory:     string(r.Category),
		metaConfidence:   strconv.FormatFloat(r.Confidence, 'f', -1, 64),
		metaSourceTurnID: r.SourceTurnID,
	}
}

func recordFromRemote(m remoteMemory, userID string) memory.Record {
	conf, err := strconv.ParseFloat(m.Metadata[metaConfidence], 64)
	if err != nil {
		conf = 0.5
	}
	updated := m.UpdatedAt
	if updated.IsZero() {
		updated = m.CreatedAt
	}

	return memory.Record{
		ID:           m.ID,
		UserID:       userID,
		Text:         m.Memory,
		Category:     memory.ParseCategory(m.Metadata[metaCategory]),
		Confidence:   conf,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    updated,
		SourceTurnID: m.Metadata[metaSourceTurnID],
		Score:        m.Score,
	}
}
