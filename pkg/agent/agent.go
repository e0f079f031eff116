// Package agent implements the turn orchestrator: the bounded state machine
// that moves a question through intent analysis, retrieval, synthesis and
// validation, optionally holds the answer for approval, and delivers either
// a grounded answer or a fallback.
//
// The orchestrator owns a turn's ConversationState for the lifetime of one
// Run call. Memory writes (fact learning, history) and event publishing run
// on a worker pool and never delay or fail delivery.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/eventstream"
	"github.com/papercomputeco/warden/pkg/extract"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/followup"
	"github.com/papercomputeco/warden/pkg/intent"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/retrieve"
	"github.com/papercomputeco/warden/pkg/synth"
	"github.com/papercomputeco/warden/pkg/turn"
	"github.com/papercomputeco/warden/pkg/worker"
)

const (
	DefaultMaxCycles      = 3
	DefaultMinQueryLength = 5
	DefaultMemoryK        = 5

	defaultIntentTimeout     = 30 * time.Second
	defaultRetrieveTimeout   = 15 * time.Second
	defaultSynthesizeTimeout = 90 * time.Second
	defaultValidateTimeout   = 60 * time.Second
	defaultMemoryTimeout     = 5 * time.Second
	defaultApprovalTimeout   = 2 * time.Minute
)

var (
	// ErrQueryTooShort rejects queries below the minimum length before a
	// turn is created.
	ErrQueryTooShort = errors.New("query is too short to answer, please ask a complete question")

	// ErrMissingUser is returned when a request has no user id.
	ErrMissingUser = errors.New("user id is required")
)

// Analyzer produces a turn plan.
type Analyzer interface {
	Analyze(ctx context.Context, in intent.Input) (turn.Plan, error)
}

// Retriever finds evidence.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieve.Query) ([]turn.EvidenceChunk, error)
}

// Synthesizer produces candidate answers.
type Synthesizer interface {
	Synthesize(ctx context.Context, in synth.Input) (turn.CandidateAnswer, error)
}

// Validator produces verdicts.
type Validator interface {
	Validate(ctx context.Context, answer turn.CandidateAnswer, evidence []turn.EvidenceChunk, lowEvidence bool) (turn.Verdict, error)
}

// Learner extracts facts from user text and stores them.
type Learner interface {
	Learn(ctx context.Context, gw memory.Gateway, in extract.Input) int
}

// FollowUps suggests follow-up questions.
type FollowUps interface {
	Generate(ctx context.Context, in followup.Input) []string
}

// Dispatcher runs side-effect jobs off the answer path.
type Dispatcher interface {
	Enqueue(job worker.Job) bool
}

// Timeouts bounds each step of a turn.
type Timeouts struct {
	Intent     time.Duration
	Retrieve   time.Duration
	Synthesize time.Duration
	Validate   time.Duration
	Memory     time.Duration
}

// Policy holds the knobs that may change while the orchestrator runs.
type Policy struct {
	AllowPartial    bool
	ApprovalTimeout time.Duration
}

// Config holds orchestrator settings.
type Config struct {
	MaxCycles      int
	MinQueryLength int
	MemoryK        int
	TopK           int
	Timeouts       Timeouts
	Policy         Policy

	// EventSource is stamped on every published turn event.
	EventSource eventstream.EventSource

	Logger *slog.Logger
	Now    func() time.Time
}

// Deps are the collaborators of a turn. Memory, Analyzer, Retriever,
// Synthesizer, Validator and Dispatcher are required; Approval, Learner,
// FollowUps and Publisher are optional.
type Deps struct {
	Memory      memory.Gateway
	Analyzer    Analyzer
	Retriever   Retriever
	Synthesizer Synthesizer
	Validator   Validator
	Learner     Learner
	FollowUps   FollowUps
	Approval    approval.Gate
	Publisher   eventstream.Publisher
	Dispatcher  Dispatcher
}

// Orchestrator runs turns. It is safe for concurrent use: each Run owns its
// own state and turns share nothing but the memory gateway.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	policy Policy
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Memory == nil:
		return nil, fault.Newf(fault.Configuration, "agent.new", "memory gateway is required")
	case deps.Analyzer == nil, deps.Retriever == nil, deps.Synthesizer == nil, deps.Validator == nil:
		return nil, fault.Newf(fault.Configuration, "agent.new", "intent, retrieval, synthesis and validation steps are required")
	case deps.Dispatcher == nil:
		return nil, fault.Newf(fault.Configuration, "agent.new", "a job dispatcher is required")
	}

	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = DefaultMinQueryLength
	}
	if cfg.MemoryK <= 0 {
		cfg.MemoryK = DefaultMemoryK
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.Policy.ApprovalTimeout <= 0 {
		cfg.Policy.ApprovalTimeout = defaultApprovalTimeout
	}
	if cfg.EventSource.Agent == "" {
		cfg.EventSource.Agent = "warden"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		now:    now,
		policy: cfg.Policy,
	}, nil
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Intent <= 0 {
		t.Intent = defaultIntentTimeout
	}
	if t.Retrieve <= 0 {
		t.Retrieve = defaultRetrieveTimeout
	}
	if t.Synthesize <= 0 {
		t.Synthesize = defaultSynthesizeTimeout
	}
	if t.Validate <= 0 {
		t.Validate = defaultValidateTimeout
	}
	if t.Memory <= 0 {
		t.Memory = defaultMemoryTimeout
	}
	return t
}

// Policy returns the current runtime policy.
func (o *Orchestrator) Policy() Policy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.policy
}

// SetPolicy replaces the runtime policy. Turns already running keep the
// policy they started with.
func (o *Orchestrator) SetPolicy(p Policy) {
	if p.ApprovalTimeout <= 0 {
		p.ApprovalTimeout = defaultApprovalTimeout
	}
	o.mu.Lock()
	o.policy = p
	o.mu.Unlock()
	o.logger.Info("agent policy updated", "allow_partial", p.AllowPartial, "approval_timeout", p.ApprovalTimeout)
}

// ApprovalEnabled reports whether answers are held for approval.
func (o *Orchestrator) ApprovalEnabled() bool {
	return o.deps.Approval != nil
}

// MaxCycles returns the validation-refinement cycle cap.
func (o *Orchestrator) MaxCycles() int {
	return o.cfg.MaxCycles
}

// Request is one question from one user.
type Request struct {
	UserID string
	Query  string

	// TurnID is generated when empty.
	TurnID string

	// Sources restricts retrieval to these source documents.
	Sources []string
}

// Result is the outcome of a turn. Delivery is the stable contract; the
// remaining fields describe how the turn got there.
type Result struct {
	TurnID      string                 `json:"turn_id"`
	Delivery    turn.Delivery          `json:"delivery"`
	State       turn.State             `json:"state"`
	Fault       fault.Kind             `json:"fault,omitempty"`
	Cycles      int                    `json:"cycles"`
	Plan        turn.Plan              `json:"plan"`
	Verdicts    []turn.Verdict         `json:"verdicts"`
	Approval    *turn.ApprovalDecision `json:"approval,omitempty"`
	FollowUps   []string               `json:"follow_ups,omitempty"`
	Transitions []turn.Transition      `json:"transitions"`
	Duration    time.Duration          `json:"duration"`
}

// Delivered reports whether the answer reached the user.
func (r *Result) Delivered() bool {
	return r.State == turn.StateDeliver
}
