package approval

import (
	"context"
)

// Auto decides immediately. It backs the auto_approve setting and tests.
type Auto struct {
	Reviewer string
	Approve  bool
	Reason   string
}

// Await returns the configured decision unless ctx is already done.
func (a Auto) Await(ctx context.Context, _ Pending) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	reviewer := a.Reviewer
	if reviewer == "" {
		reviewer = "auto"
	}

	if a.Approve {
		return Approved(reviewer), nil
	}
	return Rejected(reviewer, a.Reason), nil
}
