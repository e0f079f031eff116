package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/warden/pkg/vector"
)

// MockVectorDriver is an in-memory brute force vector driver for tests.
type MockVectorDriver struct {
	mu        sync.RWMutex
	documents map[string]vector.Document

	// FailQuery makes Query return an error, simulating an unavailable store.
	FailQuery bool

	// FailAdd makes Add return an error.
	FailAdd bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		documents: make(map[string]vector.Document),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	if m.FailAdd {
		return errors.New("mock vector store add failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		m.documents[d.ID] = d
	}
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if m.FailQuery {
		return nil, vector.ErrConnection
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]vector.QueryResult, 0, len(m.documents))
	for _, d := range m.documents {
		if !filter.Matches(d.Metadata) {
			continue
		}
		results = append(results, vector.QueryResult{
			Document: d,
			Score:    vector.Cosine(embedding, d.Embedding),
		})
	}

	vector.SortResults(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *MockVectorDriver) Get(_ context.Context, ids []string) ([]vector.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]vector.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.documents[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.documents, id)
	}
	return nil
}

// Len returns the number of stored documents.
func (m *MockVectorDriver) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents)
}

func (m *MockVectorDriver) Close() error {
	return nil
}
