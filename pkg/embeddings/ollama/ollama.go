// Package ollama embeds text with a local Ollama server's /api/embed route.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/warden/pkg/embeddings"
)

const (
	DefaultEmbeddingModel = "mxbai-embed-large"
	DefaultBaseURL        = "http://localhost:11434"

	requestTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// EmbedderConfig configures an Embedder. Empty fields take the defaults
// above; zero Dimensions disables the size check.
type EmbedderConfig struct {
	BaseURL    string
	Model      string
	Dimensions uint
}

// Embedder calls Ollama for one embedding per text.
type Embedder struct {
	endpoint   string
	model      string
	dimensions int
	client     *http.Client
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("ollama embedder: target %q must be an http(s) URL", cfg.BaseURL)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	return &Embedder{
		endpoint:   base + "/api/embed",
		model:      model,
		dimensions: int(cfg.Dimensions),
		client:     &http.Client{Timeout: requestTimeout},
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embeddings.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", embeddings.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: calling %s: %v", embeddings.ErrEmbedding, e.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: %s returned %d: %s", embeddings.ErrEmbedding, e.model, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", embeddings.ErrEmbedding, err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: %s returned no vector", embeddings.ErrEmbedding, e.model)
	}

	vec := out.Embeddings[0]
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: %s returned %d, index expects %d", embeddings.ErrDimensions, e.model, len(vec), e.dimensions)
	}
	return vec, nil
}

func (e *Embedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
