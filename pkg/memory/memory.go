// Package memory defines the hybrid memory contract shared by every step
// of a turn: durable per-user facts plus the ordered conversation history.
//
// Two interchangeable backends implement [Gateway]: a hosted semantic-memory
// service (package hosted) and a local vector-store backed store (package
// local). The backend is chosen once at startup and core logic depends only
// on the interface.
//
// Both backends guarantee that writes are visible to subsequent reads for the
// same user within the process, and that concurrent upserts for one user are
// serialized.
package memory

import (
	"context"
	"time"
)

// Category classifies a fact about a user.
type Category string

const (
	CategoryPreference Category = "preference"
	CategoryContext    Category = "context"
	CategoryConstraint Category = "constraint"
)

// ParseCategory normalizes a category, defaulting unknown values to context.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryPreference, CategoryConstraint:
		return Category(s)
	default:
		return CategoryContext
	}
}

// Record is a durable fact about a user. Records are only ever created or
// merged through Upsert and are never deleted automatically.
type Record struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Text         string    `json:"text"`
	Category     Category  `json:"category"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SourceTurnID string    `json:"source_turn_id,omitempty"`

	// Score is the hybrid ranking score, set on search results only.
	Score float64 `json:"score,omitempty"`
}

// Turn is one completed exchange in a user's conversation history.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Query     string    `json:"query"`
	Answer    string    `json:"answer"`
	Status    string    `json:"status"`
	Cycles    int       `json:"cycles"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway is the capability set every memory backend provides.
type Gateway interface {
	// Upsert stores a fact. A fact whose similarity to an existing record of
	// the same user meets the backend threshold updates that record instead
	// of creating a new one. The stored record is returned.
	Upsert(ctx context.Context, r Record) (Record, error)

	// Search returns up to k of the user's facts most relevant to query,
	// best first.
	Search(ctx context.Context, userID, query string, k int) ([]Record, error)

	// History returns the user's most recent turns, oldest first.
	History(ctx context.Context, userID string) ([]Turn, error)

	// AppendTurn records a completed turn in the user's history.
	AppendTurn(ctx context.Context, t Turn) error

	// Close releases backend resources.
	Close() error
}

// HistoryStore persists conversation turns. Both gateway backends keep
// history in a HistoryStore; only facts differ between them.
type HistoryStore interface {
	// Append stores a turn.
	Append(ctx context.Context, t Turn) error

	// Recent returns the last limit turns for the user, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]Turn, error)

	// Close releases resources.
	Close() error
}
