// Package inmemory provides a process-local conversation history store.
package inmemory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/papercomputeco/warden/pkg/memory"
)

// Driver implements memory.HistoryStore with a map of per-user slices.
type Driver struct {
	// mu guards turns and seen
	mu sync.RWMutex

	// turns holds each user's turns in append order
	turns map[string][]memory.Turn

	seen map[string]struct{}
}

// NewDriver creates an empty history store.
func NewDriver() *Driver {
	return &Driver{
		turns: make(map[string][]memory.Turn),
		seen:  make(map[string]struct{}),
	}
}

// Append stores a turn. Appending the same turn id twice is a no-op.
func (d *Driver) Append(_ context.Context, t memory.Turn) error {
	if t.ID == "" || t.UserID == "" {
		return errors.New("turn requires id and user id")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[t.ID]; ok {
		return nil
	}
	d.seen[t.ID] = struct{}{}
	d.turns[t.UserID] = append(d.turns[t.UserID], t)
	return nil
}

// Recent returns the last limit turns for userID, oldest first.
func (d *Driver) Recent(_ context.Context, userID string, limit int) ([]memory.Turn, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := d.turns[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]memory.Turn, len(all))
	copy(out, all)
	return out, nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}
