package eventstream

import (
	"context"
	"errors"
)

// ErrNilEvent is returned when a publisher is handed a nil event.
var ErrNilEvent = errors.New("nil turn event")

// Publisher ships completed-turn events to a stream. Publish runs on the
// worker pool after the answer is delivered, so a slow or failing broker
// never delays a turn.
type Publisher interface {
	Publish(ctx context.Context, event *TurnCompletedEvent) error
	Close() error
}
