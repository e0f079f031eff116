package agent_test

import (
	"context"
	"sync"

	"github.com/papercomputeco/warden/pkg/eventstream"
	"github.com/papercomputeco/warden/pkg/followup"
	"github.com/papercomputeco/warden/pkg/intent"
	"github.com/papercomputeco/warden/pkg/retrieve"
	"github.com/papercomputeco/warden/pkg/synth"
	"github.com/papercomputeco/warden/pkg/turn"
)

type analyzeFunc func(ctx context.Context, in intent.Input) (turn.Plan, error)

func (f analyzeFunc) Analyze(ctx context.Context, in intent.Input) (turn.Plan, error) {
	return f(ctx, in)
}

// fakeRetriever returns Chunks for every query and records the queries.
type fakeRetriever struct {
	mu      sync.Mutex
	Chunks  []turn.EvidenceChunk
	Err     error
	Block   bool
	queries []retrieve.Query
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q retrieve.Query) ([]turn.EvidenceChunk, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Chunks, nil
}

func (f *fakeRetriever) Queries() []retrieve.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]retrieve.Query(nil), f.queries...)
}

// fakeSynthesizer answers from a queue; the last answer repeats.
type fakeSynthesizer struct {
	mu      sync.Mutex
	Answers []turn.CandidateAnswer
	Errs    []error
	Hook    func(ctx context.Context, in synth.Input)
	inputs  []synth.Input
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, in synth.Input) (turn.CandidateAnswer, error) {
	f.mu.Lock()
	call := len(f.inputs)
	f.inputs = append(f.inputs, in)
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, in)
	}
	if err := ctx.Err(); err != nil {
		return turn.CandidateAnswer{}, err
	}
	if call < len(f.Errs) && f.Errs[call] != nil {
		return turn.CandidateAnswer{}, f.Errs[call]
	}
	idx := min(call, len(f.Answers)-1)
	return f.Answers[idx], nil
}

func (f *fakeSynthesizer) Inputs() []synth.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]synth.Input(nil), f.inputs...)
}

type blockingValidator struct{}

func (blockingValidator) Validate(ctx context.Context, _ turn.CandidateAnswer, _ []turn.EvidenceChunk, _ bool) (turn.Verdict, error) {
	<-ctx.Done()
	return turn.Verdict{}, ctx.Err()
}

type followUpFunc func(ctx context.Context, in followup.Input) []string

func (f followUpFunc) Generate(ctx context.Context, in followup.Input) []string {
	return f(ctx, in)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.TurnCompletedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e *eventstream.TurnCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []*eventstream.TurnCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.TurnCompletedEvent(nil), p.events...)
}
