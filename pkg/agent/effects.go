package agent

import (
	"context"
	"time"

	"github.com/papercomputeco/warden/pkg/eventstream"
	"github.com/papercomputeco/warden/pkg/extract"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/worker"
)

// learn schedules fact extraction for the user's text. It runs beside the
// rest of the turn and commits regardless of the turn's outcome.
func (o *Orchestrator) learn(r *turnRun) {
	if o.deps.Learner == nil {
		return
	}

	in := extract.Input{
		UserID:   r.st.UserID,
		TurnID:   r.st.TurnID,
		UserText: r.st.Query,
		Existing: r.facts,
	}
	o.deps.Dispatcher.Enqueue(worker.Job{
		Name:   "learn_facts",
		TurnID: in.TurnID,
		UserID: in.UserID,
		Run: func(ctx context.Context) error {
			o.deps.Learner.Learn(ctx, o.deps.Memory, in)
			return nil
		},
	})
}

// afterTurn schedules the history write and the turn event.
func (o *Orchestrator) afterTurn(r *turnRun, res *Result, started time.Time) {
	st := r.st
	record := memory.Turn{
		ID:        st.TurnID,
		UserID:    st.UserID,
		Query:     st.Query,
		Answer:    res.Delivery.Answer,
		Status:    string(res.Delivery.Status),
		Cycles:    st.Cycles,
		CreatedAt: started.UTC(),
	}
	o.deps.Dispatcher.Enqueue(worker.Job{
		Name:   "append_history",
		TurnID: st.TurnID,
		UserID: st.UserID,
		Run: func(ctx context.Context) error {
			if err := o.deps.Memory.AppendTurn(ctx, record); err != nil {
				return fault.New(fault.Memory, "agent.history", err)
			}
			return nil
		},
	})

	if o.deps.Publisher == nil {
		return
	}

	meta := eventstream.TurnMeta{
		TurnID:        st.TurnID,
		UserID:        st.UserID,
		State:         string(res.State),
		Status:        string(res.Delivery.Status),
		Cycles:        st.Cycles,
		CitationCount: len(res.Delivery.Citations),
		LowEvidence:   st.Plan.LowEvidence,
		StartedAt:     started.UTC(),
		CompletedAt:   started.Add(res.Duration).UTC(),
		DurationMs:    res.Duration.Milliseconds(),
	}
	if st.Approval != nil {
		meta.Approval = string(st.Approval.Status)
	}
	event := eventstream.NewTurnCompletedEvent(o.cfg.EventSource, meta)

	o.deps.Dispatcher.Enqueue(worker.Job{
		Name:   "publish_turn_event",
		TurnID: st.TurnID,
		UserID: st.UserID,
		Run: func(ctx context.Context) error {
			return o.deps.Publisher.Publish(ctx, event)
		},
	})
}
