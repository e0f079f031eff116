package testutils

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/warden/pkg/memory"
)

// MockGateway is an in-memory memory.Gateway. Facts with identical text
// (case-insensitive) for a user merge; everything else inserts.
type MockGateway struct {
	mu      sync.Mutex
	records map[string][]memory.Record
	turns   map[string][]memory.Turn
	nextID  int

	// FailUpsert, FailSearch and FailHistory simulate an unavailable backend.
	FailUpsert  bool
	FailSearch  bool
	FailHistory bool

	// SearchDelay blocks Search until it elapses or the context ends.
	SearchDelay time.Duration

	upserts int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		records: make(map[string][]memory.Record),
		turns:   make(map[string][]memory.Turn),
	}
}

// ErrMockMemory is returned by every failing MockGateway call.
var ErrMockMemory = errors.New("mock memory backend unavailable")

func (m *MockGateway) Upsert(_ context.Context, r memory.Record) (memory.Record, error) {
	if err := memory.ValidateRecord(r); err != nil {
		return memory.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	if m.FailUpsert {
		return memory.Record{}, ErrMockMemory
	}

	now := time.Now().UTC()
	for i, existing := range m.records[r.UserID] {
		if strings.EqualFold(existing.Text, r.Text) {
			merged := memory.Merge(existing, r, now)
			m.records[r.UserID][i] = merged
			return merged, nil
		}
	}

	m.nextID++
	r.ID = fmt.Sprintf("mem-%d", m.nextID)
	r.Confidence = memory.Clamp(r.Confidence)
	r.CreatedAt = now
	r.UpdatedAt = now
	m.records[r.UserID] = append(m.records[r.UserID], r)
	return r, nil
}

func (m *MockGateway) Search(ctx context.Context, userID, _ string, k int) ([]memory.Record, error) {
	if m.SearchDelay > 0 {
		select {
		case <-time.After(m.SearchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSearch {
		return nil, ErrMockMemory
	}

	out := slices.Clone(m.records[userID])
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MockGateway) History(_ context.Context, userID string) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailHistory {
		return nil, ErrMockMemory
	}
	return slices.Clone(m.turns[userID]), nil
}

func (m *MockGateway) AppendTurn(_ context.Context, t memory.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpsert {
		return ErrMockMemory
	}
	m.turns[t.UserID] = append(m.turns[t.UserID], t)
	return nil
}

// Records returns the stored facts for a user.
func (m *MockGateway) Records(userID string) []memory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records[userID])
}

// Turns returns the stored turns for a user.
func (m *MockGateway) Turns(userID string) []memory.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.turns[userID])
}

// Upserts returns how many times Upsert was called.
func (m *MockGateway) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *MockGateway) Close() error {
	return nil
}

// FactFor builds a context fact for userID.
func FactFor(userID, text string) memory.Record {
	return memory.Record{UserID: userID, Text: text, Category: memory.CategoryContext, Confidence: 0.8}
}

// TurnFor builds a delivered history turn for userID.
func TurnFor(userID, query string) memory.Turn {
	return memory.Turn{
		ID:        fmt.Sprintf("turn-%s-%d", userID, time.Now().UnixNano()),
		UserID:    userID,
		Query:     query,
		Answer:    "answer to " + query,
		Status:    "SUPPORTED",
		Cycles:    1,
		CreatedAt: time.Now().UTC(),
	}
}
