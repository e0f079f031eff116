// Package approval implements the human approval gate that holds a validated
// answer until a reviewer confirms or rejects it.
//
// Gates fail closed: a gate that errors or times out yields a REJECTED
// decision, never an implicit approval.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/turn"
)

// Decision is a reviewer's verdict on a held answer.
type Decision = turn.ApprovalDecision

var (
	// ErrUnknownTurn is returned when a decision names a turn that is not
	// awaiting approval.
	ErrUnknownTurn = errors.New("turn is not awaiting approval")

	// ErrInvalidDecision is returned for decisions other than APPROVED or
	// REJECTED.
	ErrInvalidDecision = errors.New("decision must be APPROVED or REJECTED")
)

const (
	// ReasonTimeout is recorded on decisions forced by an expired deadline.
	ReasonTimeout = "approval timed out"

	// ReasonGateFailed is recorded when the gate itself errored.
	ReasonGateFailed = "approval gate failed"
)

// Pending is an answer held for review.
type Pending struct {
	TurnID      string              `json:"turn_id"`
	UserID      string              `json:"user_id"`
	Query       string              `json:"query"`
	Answer      string              `json:"answer"`
	Status      turn.DeliveryStatus `json:"status"`
	Citations   []turn.Citation     `json:"citations"`
	Unsupported []string            `json:"unsupported_claims,omitempty"`
	RequestedAt time.Time           `json:"requested_at"`
}

// Gate decides whether a held answer may be delivered. Await blocks until a
// decision is made or ctx is done.
type Gate interface {
	Await(ctx context.Context, p Pending) (Decision, error)
}

// Validate checks a reviewer-supplied decision.
func Validate(d Decision) error {
	switch d.Status {
	case turn.ApprovalApproved, turn.ApprovalRejected:
		return nil
	default:
		return ErrInvalidDecision
	}
}

// Request asks gate for a decision within timeout. An expired timeout or a
// gate failure produces a REJECTED decision together with an
// fault.ApprovalTimeout error describing why. Only cancellation of the
// parent ctx returns a zero decision.
func Request(ctx context.Context, gate Gate, p Pending, timeout time.Duration) (Decision, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	d, err := gate.Await(waitCtx, p)
	if err == nil {
		err = Validate(d)
	}
	if err == nil {
		if d.DecidedAt.IsZero() {
			d.DecidedAt = time.Now().UTC()
		}
		return d, nil
	}

	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}

	reason := ReasonTimeout
	if !errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonGateFailed
	}
	return Rejected("", reason), fault.New(fault.ApprovalTimeout, "approval.request", err)
}

// Rejected builds a REJECTED decision stamped now.
func Rejected(reviewer, reason string) Decision {
	return Decision{
		Status:    turn.ApprovalRejected,
		Reviewer:  reviewer,
		DecidedAt: time.Now().UTC(),
		Reason:    reason,
	}
}

// Approved builds an APPROVED decision stamped now.
func Approved(reviewer string) Decision {
	return Decision{
		Status:    turn.ApprovalApproved,
		Reviewer:  reviewer,
		DecidedAt: time.Now().UTC(),
	}
}
