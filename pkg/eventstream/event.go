package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnCompleted is emitted after a turn reaches a terminal state.
	EventTypeTurnCompleted = "warden.turn.completed"
)

// TurnCompletedEvent is a transport-neutral event payload for a finished turn.
// It carries outcome metadata only; answer text and user facts stay out of
// the stream.
type TurnCompletedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Turn          TurnMeta    `json:"turn"`
}

// EventSource identifies which agent configuration produced the turn.
type EventSource struct {
	Agent         string `json:"agent"`
	Provider      string `json:"provider"`
	Model         string `json:"model,omitempty"`
	MemoryBackend string `json:"memory_backend"`
}

// TurnMeta captures the outcome of a turn.
type TurnMeta struct {
	TurnID        string    `json:"turn_id"`
	UserID        string    `json:"user_id"`
	State         string    `json:"state"`
	Status        string    `json:"status"`
	Cycles        int       `json:"cycles"`
	CitationCount int       `json:"citation_count"`
	LowEvidence   bool      `json:"low_evidence"`
	Approval      string    `json:"approval,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	DurationMs    int64     `json:"duration_ms"`
}

// NewTurnCompletedEvent stamps a fresh event id and emission time onto the
// turn outcome.
func NewTurnCompletedEvent(source EventSource, turn TurnMeta) *TurnCompletedEvent {
	return &TurnCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeTurnCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Turn:          turn,
	}
}
