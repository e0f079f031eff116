package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/followup"
	"github.com/papercomputeco/warden/pkg/intent"
	"github.com/papercomputeco/warden/pkg/logger"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/retrieve"
	"github.com/papercomputeco/warden/pkg/synth"
	"github.com/papercomputeco/warden/pkg/turn"
	"github.com/papercomputeco/warden/pkg/utils"
	"github.com/papercomputeco/warden/pkg/validate"
)

const maxLoggedQuery = 120

// turnRun is the private bookkeeping of one Run call.
type turnRun struct {
	st      *turn.ConversationState
	facts   []memory.Record
	sources []string
	policy  Policy

	directive     *turn.Directive
	status        turn.DeliveryStatus
	failure       fault.Kind
	reRetrieve    bool
	reRetrieved   bool
	learning      bool
	rejectRetried bool
}

// Run answers one question. The returned error is non-nil only when ctx
// is cancelled or the request is invalid; every other failure ends the
// turn in FAILED with a user-safe fallback in Result.Delivery.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(req.Query)
	if len([]rune(query)) < o.cfg.MinQueryLength {
		return nil, ErrQueryTooShort
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrMissingUser
	}

	started := o.now()
	turnID := req.TurnID
	if turnID == "" {
		turnID = uuid.NewString()
	}

	r := &turnRun{
		st: &turn.ConversationState{
			TurnID: turnID,
			UserID: req.UserID,
			Query:  query,
			State:  turn.StateIntent,
		},
		sources: req.Sources,
		policy:  o.Policy(),
	}

	turnLog := logger.Turn(o.logger, turnID, req.UserID)
	turnLog.Info("turn started", "query", utils.Truncate(query, maxLoggedQuery))

	r.facts, r.st.History = o.recall(ctx, r.st)

	for !r.st.State.Terminal() {
		if err := ctx.Err(); err != nil {
			turnLog.Warn("turn cancelled", "state", r.st.State, "error", err)
			return nil, err
		}

		var err error
		switch r.st.State {
		case turn.StateIntent:
			err = o.analyze(ctx, r)
		case turn.StateRetrieve:
			err = o.retrieve(ctx, r)
		case turn.StateSynthesize:
			err = o.synthesize(ctx, r)
		case turn.StateValidate:
			err = o.validate(ctx, r)
		case turn.StateApproval:
			err = o.approve(ctx, r)
		default:
			return nil, fmt.Errorf("agent: unhandled state %q", r.st.State)
		}
		if err != nil {
			turnLog.Warn("turn cancelled", "state", r.st.State, "error", err)
			return nil, err
		}
	}

	result := o.result(ctx, r)
	result.Duration = o.now().Sub(started)

	turnLog.Info("turn finished",
		"state", result.State,
		"status", result.Delivery.Status,
		"cycles", result.Cycles,
		"citations", len(result.Delivery.Citations),
		"duration", result.Duration,
	)

	o.afterTurn(r, result, started)
	return result, nil
}

// recall reads the user's relevant facts and recent history concurrently.
// Failures are memory faults: logged, never propagated.
func (o *Orchestrator) recall(ctx context.Context, st *turn.ConversationState) ([]memory.Record, []memory.Turn) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Memory)
	defer cancel()

	var (
		facts   []memory.Record
		history []memory.Turn
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := o.deps.Memory.Search(gctx, st.UserID, st.Query, o.cfg.MemoryK)
		if err != nil {
			o.logger.Warn("recalling facts failed", "turn_id", st.TurnID, "error", fault.New(fault.Memory, "agent.recall.search", err))
			return nil
		}
		facts = records
		return nil
	})
	g.Go(func() error {
		turns, err := o.deps.Memory.History(gctx, st.UserID)
		if err != nil {
			o.logger.Warn("loading history failed", "turn_id", st.TurnID, "error", fault.New(fault.Memory, "agent.recall.history", err))
			return nil
		}
		history = turns
		return nil
	})
	_ = g.Wait()

	return facts, history
}

func (o *Orchestrator) analyze(ctx context.Context, r *turnRun) error {
	in := intent.Input{Query: r.st.Query, History: r.st.History, Facts: r.facts}

	var plan turn.Plan
	err := o.attempt(ctx, "intent", fault.Generation, o.cfg.Timeouts.Intent, func(stepCtx context.Context, retry bool) error {
		in.Strict = retry
		var err error
		plan, err = o.deps.Analyzer.Analyze(stepCtx, in)
		return err
	})
	if err != nil {
		return o.stepFailed(ctx, r, "intent", fault.Generation, err)
	}

	r.st.Plan = plan
	o.transition(r, turn.StateRetrieve, "")
	return nil
}

func (o *Orchestrator) retrieve(ctx context.Context, r *turnRun) error {
	query := r.st.Plan.NormalizedQuery
	if r.reRetrieve && r.directive != nil && r.directive.ReformulatedQuery != "" {
		query = r.directive.ReformulatedQuery
	}
	refining := r.reRetrieve
	r.reRetrieve = false

	var chunks []turn.EvidenceChunk
	err := o.attempt(ctx, "retrieve", fault.Retrieval, o.cfg.Timeouts.Retrieve, func(stepCtx context.Context, _ bool) error {
		var err error
		chunks, err = o.deps.Retriever.Retrieve(stepCtx, retrieve.Query{Text: query, TopK: o.cfg.TopK, Sources: r.sources})
		return err
	})

	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil && isTimeout(err) && !refining:
		return o.stepFailed(ctx, r, "retrieve", fault.Retrieval, err)
	case err != nil:
		o.logger.Warn("retrieval failed, continuing with available evidence",
			"turn_id", r.st.TurnID,
			"refining", refining,
			"error", fault.New(fault.Retrieval, "agent.retrieve", err),
		)
	}

	if refining {
		r.st.Evidence = mergeEvidence(r.st.Evidence, chunks)
	} else {
		r.st.Evidence = chunks
	}
	r.st.Plan.LowEvidence = len(r.st.Evidence) == 0

	note := ""
	if r.st.Plan.LowEvidence {
		note = "low evidence"
	}
	o.transition(r, turn.StateSynthesize, note)
	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, r *turnRun) error {
	if !r.learning {
		r.learning = true
		o.learn(r)
	}

	in := synth.Input{Plan: r.st.Plan, Evidence: r.st.Evidence, Directive: r.directive}

	var answer turn.CandidateAnswer
	err := o.attempt(ctx, "synthesize", fault.Generation, o.cfg.Timeouts.Synthesize, func(stepCtx context.Context, retry bool) error {
		in.Strict = retry
		var err error
		answer, err = o.deps.Synthesizer.Synthesize(stepCtx, in)
		return err
	})
	if err != nil {
		return o.stepFailed(ctx, r, "synthesize", fault.Generation, err)
	}

	r.st.Answer = &answer
	o.transition(r, turn.StateValidate, "")
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, r *turnRun) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Validate)
	verdict, err := o.deps.Validator.Validate(stepCtx, *r.st.Answer, r.st.Evidence, r.st.Plan.LowEvidence)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Warn("validation did not complete, treating answer as unsupported", "turn_id", r.st.TurnID, "error", err)
		verdict = validate.TimedOut(*r.st.Answer)
	}

	r.st.Cycles++
	r.st.Verdicts = append(r.st.Verdicts, verdict)
	remaining := r.st.Cycles < o.cfg.MaxCycles

	switch {
	case verdict.Outcome == turn.Supported:
		o.accept(r, turn.DeliverySupported)

	case verdict.Outcome == turn.PartiallySupported && !remaining && r.policy.AllowPartial:
		o.accept(r, turn.DeliveryPartial)

	case remaining:
		r.directive = verdict.Directive
		if r.directive == nil {
			r.directive = &turn.Directive{UnsupportedClaims: verdict.UnsupportedClaims}
		}
		if !r.reRetrieved && (r.st.Plan.LowEvidence || len(r.directive.UnsupportedClaims) > 0) {
			r.reRetrieved = true
			r.reRetrieve = true
			r.directive.ReformulatedQuery = retrieve.Reformulate(r.st.Plan.NormalizedQuery, r.directive.UnsupportedClaims)
			o.transition(r, turn.StateRetrieve, "refine: "+string(verdict.Outcome))
			return nil
		}
		o.transition(r, turn.StateSynthesize, "refine: "+string(verdict.Outcome))

	default:
		o.fail(r, fault.ValidationExhausted, string(verdict.Outcome))
	}
	return nil
}

// accept moves a validated answer towards delivery.
func (o *Orchestrator) accept(r *turnRun, status turn.DeliveryStatus) {
	r.status = status
	if o.deps.Approval != nil {
		o.transition(r, turn.StateApproval, string(status))
		return
	}
	o.transition(r, turn.StateDeliver, string(status))
}

func (o *Orchestrator) approve(ctx context.Context, r *turnRun) error {
	answer := *r.st.Answer
	latest, _ := r.st.LatestVerdict()

	pending := approval.Pending{
		TurnID:      r.st.TurnID,
		UserID:      r.st.UserID,
		Query:       r.st.Query,
		Answer:      answer.Text,
		Status:      r.status,
		Citations:   turn.Citations(answer, r.st.Evidence),
		Unsupported: latest.UnsupportedClaims,
		RequestedAt: o.now(),
	}

	decision, err := approval.Request(ctx, o.deps.Approval, pending, r.policy.ApprovalTimeout)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	r.st.Approval = &decision

	if decision.Status == turn.ApprovalApproved {
		o.transition(r, turn.StateDeliver, "approved by "+decision.Reviewer)
		return nil
	}

	if err != nil {
		o.logger.Warn("answer withheld", "turn_id", r.st.TurnID, "error", err)
		o.fail(r, fault.ApprovalTimeout, decision.Reason)
		return nil
	}

	if !r.rejectRetried && r.st.Cycles < o.cfg.MaxCycles {
		r.rejectRetried = true
		r.directive = &turn.Directive{ReviewerFeedback: decision.Reason}
		o.transition(r, turn.StateSynthesize, "rejected: "+decision.Reason)
		return nil
	}

	o.fail(r, fault.ApprovalRejected, "rejected: "+decision.Reason)
	return nil
}

// attempt runs fn under timeout and retries it once when the failure is
// retryable for kind and ctx is still live. fn receives retry=true on the
// second attempt.
func (o *Orchestrator) attempt(ctx context.Context, step string, kind fault.Kind, timeout time.Duration, fn func(ctx context.Context, retry bool) error) error {
	var err error
	for try := range 2 {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(stepCtx, try > 0)
		cancel()

		if err == nil || ctx.Err() != nil {
			return err
		}
		o.logger.Warn("step failed", "step", step, "attempt", try+1, "timeout", isTimeout(err), "error", err)
		if !fault.Retryable(faultKind(err, kind)) {
			return err
		}
	}
	return err
}

// stepFailed ends the turn unless the failure was a cancellation. The raw
// error is logged; the transition note carries only the step and kind.
func (o *Orchestrator) stepFailed(ctx context.Context, r *turnRun, step string, kind fault.Kind, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	kind = faultKind(err, kind)
	o.logger.Error("step failed, ending turn", "turn_id", r.st.TurnID, "step", step, "kind", kind, "error", err)
	o.fail(r, kind, step+" failed")
	return nil
}

// faultKind returns the kind carried by err, or fallback when err is
// outside the taxonomy.
func faultKind(err error, fallback fault.Kind) fault.Kind {
	if k := fault.KindOf(err); k != fault.Unknown {
		return k
	}
	return fallback
}

func (o *Orchestrator) fail(r *turnRun, kind fault.Kind, note string) {
	r.failure = kind
	o.transition(r, turn.StateFailed, string(kind)+": "+note)
}

func (o *Orchestrator) transition(r *turnRun, to turn.State, note string) {
	tr := turn.Transition{From: r.st.State, To: to, Cycle: r.st.Cycles, At: o.now(), Note: note}
	r.st.Transitions = append(r.st.Transitions, tr)
	r.st.State = to

	o.logger.Debug("turn transition",
		"turn_id", r.st.TurnID,
		"from", tr.From,
		"to", tr.To,
		"cycle", tr.Cycle,
		"note", note,
	)
}

func (o *Orchestrator) result(ctx context.Context, r *turnRun) *Result {
	st := r.st
	res := &Result{
		TurnID:      st.TurnID,
		State:       st.State,
		Cycles:      st.Cycles,
		Plan:        st.Plan,
		Verdicts:    st.Verdicts,
		Approval:    st.Approval,
		Transitions: st.Transitions,
	}

	if st.State == turn.StateDeliver {
		res.Delivery = turn.Delivery{
			Answer:    st.Answer.Text,
			Status:    r.status,
			Citations: turn.Citations(*st.Answer, st.Evidence),
		}
	} else {
		res.Fault = r.failure
		res.Delivery = turn.Delivery{
			Answer:    fault.UserMessage(r.failure),
			Status:    turn.DeliveryFallback,
			Citations: []turn.Citation{},
		}
	}

	if o.deps.FollowUps != nil {
		var unsupported []string
		if latest, ok := st.LatestVerdict(); ok {
			unsupported = latest.UnsupportedClaims
		}
		res.FollowUps = o.deps.FollowUps.Generate(ctx, followup.Input{
			Query:             st.Query,
			MissingContext:    st.Plan.MissingContext,
			UnsupportedClaims: unsupported,
		})
	}
	return res
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// mergeEvidence keeps earlier chunks so existing citations still resolve,
// adds new ones, and restores score order.
func mergeEvidence(existing, fresh []turn.EvidenceChunk) []turn.EvidenceChunk {
	seen := make(map[string]bool, len(existing)+len(fresh))
	out := make([]turn.EvidenceChunk, 0, len(existing)+len(fresh))
	for _, c := range append(append([]turn.EvidenceChunk(nil), existing...), fresh...) {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out
}
