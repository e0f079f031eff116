package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/extract"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/followup"
	"github.com/papercomputeco/warden/pkg/intent"
	"github.com/papercomputeco/warden/pkg/synth"
	"github.com/papercomputeco/warden/pkg/turn"
	testutils "github.com/papercomputeco/warden/pkg/utils/test"
	"github.com/papercomputeco/warden/pkg/validate"
	"github.com/papercomputeco/warden/pkg/worker"
)

const question = "What are the key requirements of the EU AI Act?"

var (
	riskChunk = turn.EvidenceChunk{
		ID:       "ai-act#9",
		SourceID: "eu-ai-act",
		Text:     "Providers of high-risk AI systems shall establish a risk management system covering the entire lifecycle.",
		Score:    0.9,
		Locator:  "p. 12, § Art. 9",
	}
	dataChunk = turn.EvidenceChunk{
		ID:       "ai-act#10",
		SourceID: "eu-ai-act",
		Text:     "Training, validation and testing data sets shall be subject to data governance practices.",
		Score:    0.8,
		Locator:  "p. 13, § Art. 10",
	}

	riskClaim   = turn.Claim{Text: "Providers of high-risk AI systems establish a risk management system.", ChunkIDs: []string{"ai-act#9"}}
	dataClaim   = turn.Claim{Text: "Training data sets are subject to data governance practices.", ChunkIDs: []string{"ai-act#10"}}
	inventClaim = turn.Claim{Text: "Fines reach seven percent of global turnover.", ChunkIDs: []string{"ai-act#9"}}

	supportedAnswer = turn.CandidateAnswer{
		Text:   "Providers must run a risk management system and govern their training data.",
		Claims: []turn.Claim{riskClaim, dataClaim},
	}
	partialAnswer = turn.CandidateAnswer{
		Text:   "Providers must run a risk management system and face large fines.",
		Claims: []turn.Claim{riskClaim, inventClaim},
	}
	inventedAnswer = turn.CandidateAnswer{
		Text:   "Fines reach seven percent of global turnover.",
		Claims: []turn.Claim{inventClaim},
	}
	uncitedAnswer = turn.CandidateAnswer{
		Text:   "The EU AI Act sets obligations for AI providers.",
		Claims: []turn.Claim{{Text: "The EU AI Act sets obligations for AI providers."}},
	}
)

func planFor(in intent.Input) turn.Plan {
	return turn.Plan{NormalizedQuery: in.Query, NeedsRetrieval: true, QueryType: turn.QueryCompliance}
}

var _ = Describe("Orchestrator", func() {
	var (
		gateway     *testutils.MockGateway
		pool        *worker.Pool
		retriever   *fakeRetriever
		synthesizer *fakeSynthesizer
		analyzer    analyzeFunc
		cfg         agent.Config
		deps        agent.Deps
		ctx         context.Context
	)

	build := func() *agent.Orchestrator {
		deps.Memory = gateway
		deps.Analyzer = analyzer
		deps.Retriever = retriever
		deps.Synthesizer = synthesizer
		deps.Dispatcher = pool
		if deps.Validator == nil {
			deps.Validator = validate.New(validate.Config{})
		}
		o, err := agent.New(cfg, deps)
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	run := func(query string) *agent.Result {
		res, err := build().Run(ctx, agent.Request{UserID: "alice", Query: query})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		ctx = context.Background()
		gateway = testutils.NewMockGateway()
		var err error
		pool, err = worker.NewPool(&worker.Config{NumWorkers: 2})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		retriever = &fakeRetriever{Chunks: []turn.EvidenceChunk{riskChunk, dataChunk}}
		synthesizer = &fakeSynthesizer{Answers: []turn.CandidateAnswer{supportedAnswer}}
		analyzer = func(_ context.Context, in intent.Input) (turn.Plan, error) { return planFor(in), nil }
		cfg = agent.Config{}
		deps = agent.Deps{}
	})

	Describe("New", func() {
		It("requires a memory gateway", func() {
			_, err := agent.New(agent.Config{}, agent.Deps{})
			Expect(fault.Is(err, fault.Configuration)).To(BeTrue())
		})

		It("applies defaults", func() {
			o := build()
			Expect(o.MaxCycles()).To(Equal(agent.DefaultMaxCycles))
			Expect(o.ApprovalEnabled()).To(BeFalse())
			Expect(o.Policy().ApprovalTimeout).To(Equal(2 * time.Minute))
		})
	})

	Describe("request validation", func() {
		It("rejects queries shorter than the minimum length", func() {
			res, err := build().Run(ctx, agent.Request{UserID: "alice", Query: "  hi  "})
			Expect(err).To(MatchError(agent.ErrQueryTooShort))
			Expect(res).To(BeNil())
			Expect(retriever.Queries()).To(BeEmpty())
		})

		It("requires a user", func() {
			_, err := build().Run(ctx, agent.Request{Query: question})
			Expect(err).To(MatchError(agent.ErrMissingUser))
		})
	})

	It("delivers a supported answer on the first cycle", func() {
		res := run(question)

		Expect(res.State).To(Equal(turn.StateDeliver))
		Expect(res.Delivered()).To(BeTrue())
		Expect(res.Cycles).To(Equal(1))
		Expect(res.Delivery.Status).To(Equal(turn.DeliverySupported))
		Expect(res.Delivery.Answer).To(Equal(supportedAnswer.Text))
		Expect(res.Delivery.Citations).To(Equal([]turn.Citation{
			{ChunkID: "ai-act#9", SourceID: "eu-ai-act", Locator: "p. 12, § Art. 9"},
			{ChunkID: "ai-act#10", SourceID: "eu-ai-act", Locator: "p. 13, § Art. 10"},
		}))
		Expect(res.Verdicts).To(HaveLen(1))
		Expect(res.Verdicts[0].Outcome).To(Equal(turn.Supported))

		var states []turn.State
		for _, t := range res.Transitions {
			states = append(states, t.To)
		}
		Expect(states).To(Equal([]turn.State{turn.StateRetrieve, turn.StateSynthesize, turn.StateValidate, turn.StateDeliver}))
		Expect(res.Transitions[0].From).To(Equal(turn.StateIntent))
	})

	It("fails with the fallback when no evidence is found", func() {
		retriever.Chunks = nil
		synthesizer.Answers = []turn.CandidateAnswer{uncitedAnswer}

		res := run(question)

		Expect(res.State).To(Equal(turn.StateFailed))
		Expect(res.Fault).To(Equal(fault.ValidationExhausted))
		Expect(res.Delivery.Status).To(Equal(turn.DeliveryFallback))
		Expect(res.Delivery.Answer).To(Equal(fault.FallbackAnswer))
		Expect(res.Delivery.Citations).To(BeEmpty())
		Expect(res.Delivery.Citations).NotTo(BeNil())
		Expect(res.Plan.LowEvidence).To(BeTrue())
		Expect(res.Cycles).To(Equal(agent.DefaultMaxCycles))
		for _, v := range res.Verdicts {
			Expect(v.Outcome).To(Equal(turn.Unsupported))
		}
		Expect(synthesizer.Inputs()[0].Plan.LowEvidence).To(BeTrue())
		Expect(retriever.Queries()).To(HaveLen(2))
	})

	It("never exceeds the cycle cap", func() {
		cfg.MaxCycles = 2
		synthesizer.Answers = []turn.CandidateAnswer{inventedAnswer}

		res := run(question)

		Expect(res.State).To(Equal(turn.StateFailed))
		Expect(res.Cycles).To(Equal(2))
		Expect(res.Verdicts).To(HaveLen(2))
		Expect(synthesizer.Inputs()).To(HaveLen(2))
		Expect(res.Delivery.Answer).To(Equal(fault.FallbackAnswer))
	})

	It("refines with the directive and one reformulated retrieval", func() {
		synthesizer.Answers = []turn.CandidateAnswer{partialAnswer, supportedAnswer}

		res := run(question)

		Expect(res.State).To(Equal(turn.StateDeliver))
		Expect(res.Cycles).To(Equal(2))
		Expect(res.Verdicts[0].Outcome).To(Equal(turn.PartiallySupported))
		Expect(res.Verdicts[1].Outcome).To(Equal(turn.Supported))

		inputs := synthesizer.Inputs()
		Expect(inputs).To(HaveLen(2))
		Expect(inputs[0].Directive).To(BeNil())
		Expect(inputs[1].Directive).NotTo(BeNil())
		Expect(inputs[1].Directive.UnsupportedClaims).To(Equal([]string{inventClaim.Text}))

		queries := retriever.Queries()
		Expect(queries).To(HaveLen(2))
		Expect(queries[1].Text).To(Equal(question + " " + inventClaim.Text))
	})

	It("re-retrieves at most once per turn", func() {
		synthesizer.Answers = []turn.CandidateAnswer{inventedAnswer}
		run(question)
		Expect(retriever.Queries()).To(HaveLen(2))
	})

	Describe("partial delivery policy", func() {
		BeforeEach(func() {
			cfg.MaxCycles = 1
			synthesizer.Answers = []turn.CandidateAnswer{partialAnswer}
		})

		It("delivers a partially supported answer when allowed and no cycles remain", func() {
			cfg.Policy.AllowPartial = true
			res := run(question)
			Expect(res.State).To(Equal(turn.StateDeliver))
			Expect(res.Delivery.Status).To(Equal(turn.DeliveryPartial))
			Expect(res.Delivery.Citations).To(HaveLen(1))
		})

		It("fails when partial delivery is not allowed", func() {
			res := run(question)
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Delivery.Status).To(Equal(turn.DeliveryFallback))
		})

		It("picks up policy changes for new turns", func() {
			o := build()
			o.SetPolicy(agent.Policy{AllowPartial: true})
			res, err := o.Run(ctx, agent.Request{UserID: "alice", Query: question})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Delivery.Status).To(Equal(turn.DeliveryPartial))
		})
	})

	Describe("step failures", func() {
		It("retries intent once with strict output", func() {
			var calls []bool
			analyzer = func(_ context.Context, in intent.Input) (turn.Plan, error) {
				calls = append(calls, in.Strict)
				if !in.Strict {
					return turn.Plan{}, fault.Newf(fault.Generation, "intent.parse", "no JSON")
				}
				return planFor(in), nil
			}

			res := run(question)
			Expect(calls).To(Equal([]bool{false, true}))
			Expect(res.State).To(Equal(turn.StateDeliver))
		})

		It("fails with a user-safe message when intent fails twice", func() {
			analyzer = func(context.Context, intent.Input) (turn.Plan, error) {
				return turn.Plan{}, fault.New(fault.Generation, "intent.llm", errors.New("connection refused to 10.0.0.3"))
			}

			res := run(question)
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Fault).To(Equal(fault.Generation))
			Expect(res.Delivery.Answer).To(Equal(fault.UserMessage(fault.Generation)))
			Expect(res.Delivery.Answer).NotTo(ContainSubstring("10.0.0.3"))
		})

		It("keeps raw errors out of the transition log", func() {
			analyzer = func(context.Context, intent.Input) (turn.Plan, error) {
				return turn.Plan{}, errors.New(`openai API error (status 401): {"error":"invalid key sk-live-XYZ"}`)
			}

			res := run(question)
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Fault).To(Equal(fault.Generation))

			last := res.Transitions[len(res.Transitions)-1]
			Expect(last.To).To(Equal(turn.StateFailed))
			Expect(last.Note).To(Equal("generation: intent failed"))

			body, err := json.Marshal(res)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("sk-live-XYZ"))
		})

		It("does not retry faults outside retrieval and generation", func() {
			calls := 0
			analyzer = func(context.Context, intent.Input) (turn.Plan, error) {
				calls++
				return turn.Plan{}, fault.Newf(fault.Configuration, "intent.llm", "no API key for openai")
			}

			res := run(question)
			Expect(calls).To(Equal(1))
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Fault).To(Equal(fault.Configuration))
		})

		It("retries synthesis once with strict output", func() {
			synthesizer.Errs = []error{fault.Newf(fault.Generation, "synthesize.parse", "bad json")}
			res := run(question)
			Expect(res.State).To(Equal(turn.StateDeliver))
			inputs := synthesizer.Inputs()
			Expect(inputs).To(HaveLen(2))
			Expect(inputs[0].Strict).To(BeFalse())
			Expect(inputs[1].Strict).To(BeTrue())
		})

		It("degrades to low evidence when the index is unavailable", func() {
			retriever.Err = fault.New(fault.Retrieval, "retrieve.query", errors.New("index offline"))
			synthesizer.Answers = []turn.CandidateAnswer{uncitedAnswer}

			res := run(question)
			Expect(res.Plan.LowEvidence).To(BeTrue())
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Fault).To(Equal(fault.ValidationExhausted))
			Expect(synthesizer.Inputs()).NotTo(BeEmpty())
		})

		It("fails when retrieval times out twice", func() {
			cfg.Timeouts.Retrieve = 10 * time.Millisecond
			retriever.Block = true

			res := run(question)
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Fault).To(Equal(fault.Retrieval))
			Expect(retriever.Queries()).To(HaveLen(2))
			Expect(synthesizer.Inputs()).To(BeEmpty())
		})

		It("treats a validation timeout as unsupported", func() {
			cfg.MaxCycles = 1
			cfg.Timeouts.Validate = 10 * time.Millisecond
			deps.Validator = blockingValidator{}

			res := run(question)
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Verdicts).To(HaveLen(1))
			Expect(res.Verdicts[0].TimedOut).To(BeTrue())
			Expect(res.Verdicts[0].Outcome).To(Equal(turn.Unsupported))
		})
	})

	Describe("approval", func() {
		It("does not deliver when no decision arrives before the timeout", func() {
			broker := approval.NewBroker(nil)
			deps.Approval = broker
			cfg.Policy.ApprovalTimeout = 30 * time.Millisecond

			res := run(question)

			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Delivered()).To(BeFalse())
			Expect(res.Fault).To(Equal(fault.ApprovalTimeout))
			Expect(res.Approval).NotTo(BeNil())
			Expect(res.Approval.Status).To(Equal(turn.ApprovalRejected))
			Expect(res.Delivery.Answer).NotTo(Equal(supportedAnswer.Text))
			Expect(res.Delivery.Status).To(Equal(turn.DeliveryFallback))
			Expect(broker.Pending()).To(BeEmpty())
		})

		It("delivers an approved answer", func() {
			deps.Approval = approval.Auto{Approve: true, Reviewer: "carol"}
			res := run(question)

			Expect(res.State).To(Equal(turn.StateDeliver))
			Expect(res.Approval.Status).To(Equal(turn.ApprovalApproved))
			Expect(res.Approval.Reviewer).To(Equal("carol"))
		})

		It("holds only validated answers", func() {
			held := 0
			deps.Approval = approvalFunc(func(context.Context, approval.Pending) (approval.Decision, error) {
				held++
				return approval.Approved("carol"), nil
			})
			synthesizer.Answers = []turn.CandidateAnswer{inventedAnswer}

			res := run(question)
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(held).To(BeZero())
		})

		It("re-synthesizes once after a rejection, then fails", func() {
			deps.Approval = approval.Auto{Reason: "cites the wrong article"}
			res := run(question)

			Expect(synthesizer.Inputs()).To(HaveLen(2))
			directive := synthesizer.Inputs()[1].Directive
			Expect(directive).NotTo(BeNil())
			Expect(directive.ReviewerFeedback).To(Equal("cites the wrong article"))
			Expect(directive.UnsupportedClaims).To(BeEmpty())
			Expect(res.State).To(Equal(turn.StateFailed))
			Expect(res.Fault).To(Equal(fault.ApprovalRejected))
			Expect(res.Cycles).To(Equal(2))
		})

		It("lets an external reviewer approve through the broker", func() {
			broker := approval.NewBroker(nil)
			deps.Approval = broker
			cfg.Policy.ApprovalTimeout = 5 * time.Second

			go func() {
				defer GinkgoRecover()
				Eventually(broker.Pending).Should(HaveLen(1))
				Expect(broker.Decide(broker.Pending()[0].TurnID, approval.Approved("dave"))).To(Succeed())
			}()

			res := run(question)
			Expect(res.State).To(Equal(turn.StateDeliver))
			Expect(res.Approval.Reviewer).To(Equal("dave"))
		})
	})

	Describe("memory", func() {
		It("isolates memory faults from the delivered answer", func() {
			healthy := run(question)

			gateway = testutils.NewMockGateway()
			gateway.FailSearch = true
			gateway.FailHistory = true
			gateway.FailUpsert = true
			deps.Learner = extract.New(nil, nil)

			degraded := run(question)
			Expect(degraded.State).To(Equal(healthy.State))
			Expect(degraded.Delivery).To(Equal(healthy.Delivery))
			Expect(degraded.Verdicts[0].Outcome).To(Equal(healthy.Verdicts[0].Outcome))
		})

		It("passes recalled facts and history to intent analysis", func() {
			_, err := gateway.Upsert(ctx, testutils.FactFor("alice", "Works at Acme Bank"))
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.AppendTurn(ctx, testutils.TurnFor("alice", "What is DORA?"))).To(Succeed())

			var seen intent.Input
			analyzer = func(_ context.Context, in intent.Input) (turn.Plan, error) {
				seen = in
				return planFor(in), nil
			}
			run(question)

			Expect(seen.Facts).To(HaveLen(1))
			Expect(seen.History).To(HaveLen(1))
		})

		It("learns facts from the user's text even when the turn fails", func() {
			deps.Learner = extract.New(nil, nil)
			synthesizer.Answers = []turn.CandidateAnswer{inventedAnswer}

			res := run("I work at Acme Bank. What does DORA Article 28 require?")
			Expect(res.State).To(Equal(turn.StateFailed))

			pool.Close()
			records := gateway.Records("alice")
			Expect(records).To(HaveLen(1))
			Expect(records[0].Text).To(Equal("Works at Acme Bank"))
			Expect(records[0].SourceTurnID).To(Equal(res.TurnID))
		})

		It("appends the finished turn to history", func() {
			res := run(question)
			pool.Close()

			turns := gateway.Turns("alice")
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].ID).To(Equal(res.TurnID))
			Expect(turns[0].Status).To(Equal(string(turn.DeliverySupported)))
			Expect(turns[0].Cycles).To(Equal(1))
		})

		It("keeps committed memory writes when the turn is cancelled", func() {
			deps.Learner = extract.New(nil, nil)
			runCtx, cancel := context.WithCancel(context.Background())
			synthesizer.Hook = func(context.Context, synth.Input) { cancel() }

			_, err := build().Run(runCtx, agent.Request{UserID: "alice", Query: "I work at Acme Bank. What does DORA require?"})
			Expect(err).To(MatchError(context.Canceled))

			pool.Close()
			Expect(gateway.Records("alice")).To(HaveLen(1))
			Expect(gateway.Turns("alice")).To(BeEmpty())
		})
	})

	It("publishes a turn event", func() {
		publisher := &recordingPublisher{}
		deps.Publisher = publisher

		res := run(question)
		pool.Close()

		events := publisher.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Turn.TurnID).To(Equal(res.TurnID))
		Expect(events[0].Turn.Status).To(Equal("SUPPORTED"))
		Expect(events[0].Turn.CitationCount).To(Equal(2))
		Expect(events[0].Source.Agent).To(Equal("warden"))
	})

	It("attaches follow-up questions", func() {
		var got followup.Input
		deps.FollowUps = followUpFunc(func(_ context.Context, in followup.Input) []string {
			got = in
			return []string{"Which risk class is your system in?"}
		})
		cfg.MaxCycles = 1
		cfg.Policy.AllowPartial = true
		synthesizer.Answers = []turn.CandidateAnswer{partialAnswer}

		res := run(question)
		Expect(res.FollowUps).To(Equal([]string{"Which risk class is your system in?"}))
		Expect(got.UnsupportedClaims).To(Equal([]string{inventClaim.Text}))
	})
})

type approvalFunc func(ctx context.Context, p approval.Pending) (approval.Decision, error)

func (f approvalFunc) Await(ctx context.Context, p approval.Pending) (approval.Decision, error) {
	return f(ctx, p)
}
