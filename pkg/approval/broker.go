package approval

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Broker is a Gate whose decisions arrive from outside the turn, for example
// from the HTTP API. Each awaiting turn is listed until it is decided or its
// context ends.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*waiter
	logger  *slog.Logger
}

type waiter struct {
	pending Pending
	ch      chan Decision
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broker{
		pending: make(map[string]*waiter),
		logger:  logger,
	}
}

// Await registers p and blocks until Decide is called for its turn or ctx
// is done.
func (b *Broker) Await(ctx context.Context, p Pending) (Decision, error) {
	w := &waiter{pending: p, ch: make(chan Decision, 1)}

	b.mu.Lock()
	b.pending[p.TurnID] = w
	b.mu.Unlock()

	b.logger.Info("answer awaiting approval", "turn_id", p.TurnID, "user_id", p.UserID)

	defer func() {
		b.mu.Lock()
		if b.pending[p.TurnID] == w {
			delete(b.pending, p.TurnID)
		}
		b.mu.Unlock()
	}()

	select {
	case d := <-w.ch:
		return d, nil
	case <-ctx.Done():
		b.logger.Warn("approval wait ended without decision", "turn_id", p.TurnID, "error", ctx.Err())
		return Decision{}, ctx.Err()
	}
}

// Decide delivers a reviewer decision for turnID.
func (b *Broker) Decide(turnID string, d Decision) error {
	if err := Validate(d); err != nil {
		return err
	}

	b.mu.Lock()
	w, ok := b.pending[turnID]
	if ok {
		delete(b.pending, turnID)
	}
	b.mu.Unlock()

	if !ok {
		return ErrUnknownTurn
	}

	w.ch <- d
	b.logger.Info("approval decided", "turn_id", turnID, "status", d.Status, "reviewer", d.Reviewer)
	return nil
}

// Pending lists answers awaiting a decision, oldest first.
func (b *Broker) Pending() []Pending {
	b.mu.Lock()
	out := make([]Pending, 0, len(b.pending))
	for _, w := range b.pending {
		out = append(out, w.pending)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].TurnID < out[j].TurnID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}
