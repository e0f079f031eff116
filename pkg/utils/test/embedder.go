package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/warden/pkg/embeddings/hash"
)

// MockEmbedder is a test embedder that returns predictable embeddings.
// Texts without a registered embedding fall back to the hashing embedder so
// that similarity between unregistered texts is still meaningful.
type MockEmbedder struct {
	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches
	FailOn string

	// FailAll causes every Embed call to fail
	FailAll bool

	mu     sync.Mutex
	calls  map[string]int
	hasher *hash.Embedder
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
		calls:      make(map[string]int),
		hasher:     hash.NewEmbedder(64),
	}
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls[text]++
	m.mu.Unlock()

	if m.FailAll || (m.FailOn != "" && text == m.FailOn) {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}

	if emb, ok := m.Embeddings[text]; ok {
		return emb, nil
	}

	return m.hasher.Embed(ctx, text)
}

// Calls returns how many times text was embedded.
func (m *MockEmbedder) Calls(text string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[text]
}

func (m *MockEmbedder) Close() error {
	return nil
}
