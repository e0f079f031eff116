package synth_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/synth"
	"github.com/papercomputeco/warden/pkg/turn"
	testutils "github.com/papercomputeco/warden/pkg/utils/test"
)

var _ = Describe("Synthesizer", func() {
	var (
		ctx      context.Context
		script   *testutils.ScriptedLLM
		evidence []turn.EvidenceChunk
		plan     turn.Plan
	)

	BeforeEach(func() {
		ctx = context.Background()
		script = &testutils.ScriptedLLM{}
		evidence = []turn.EvidenceChunk{
			{ID: "eu#1", SourceID: "eu-ai-act.pdf", Locator: "p. 3", Text: "High-risk systems require a risk management system."},
			{ID: "eu#2", SourceID: "eu-ai-act.pdf", Locator: "p. 9", Text: "Providers must keep technical documentation."},
		}
		plan = turn.Plan{NormalizedQuery: "What are the key requirements of the EU AI Act?", QueryType: turn.QueryCompliance}
	})

	It("returns claims tagged with evidence ids", func() {
		script.Reply(`{
			"answer": "High-risk systems need risk management and documentation.",
			"claims": [
				{"text": "High-risk systems require a risk management system.", "chunk_ids": ["eu#1"]},
				{"text": "Providers must keep technical documentation.", "chunk_ids": ["eu#2", "made-up"]}
			]
		}`)

		a, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Claims).To(HaveLen(2))
		Expect(a.Claims[0].ChunkIDs).To(Equal([]string{"eu#1"}))
		Expect(a.Claims[1].ChunkIDs).To(Equal([]string{"eu#2"}))
		Expect(a.ChunkIDs()).To(Equal([]string{"eu#1", "eu#2"}))
	})

	It("puts evidence ids, facts and the low-evidence notice in the prompt", func() {
		plan.LowEvidence = true
		plan.RelevantFacts = []memory.Record{{Text: "Deploys in the EU"}}
		script.Reply(`{"answer": "The documents do not cover this.", "claims": []}`)

		_, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence})
		Expect(err).NotTo(HaveOccurred())
		prompt := script.Prompts()[0]
		Expect(prompt).To(ContainSubstring("[eu#1] (eu-ai-act.pdf p. 3)"))
		Expect(prompt).To(ContainSubstring("- Deploys in the EU"))
		Expect(prompt).To(ContainSubstring("LOW EVIDENCE"))
	})

	It("treats an answer without claims as one uncited claim", func() {
		script.Reply(`{"answer": "The EU AI Act bans social scoring.", "claims": []}`)

		a, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence})
		Expect(err).NotTo(HaveOccurred())
		Expect(a.Claims).To(Equal([]turn.Claim{{Text: "The EU AI Act bans social scoring."}}))
	})

	Describe("refinement", func() {
		var directive *turn.Directive

		BeforeEach(func() {
			directive = &turn.Directive{UnsupportedClaims: []string{"Fines reach 10% of turnover."}}
		})

		It("asks the model to remove or re-ground flagged claims", func() {
			script.Reply(`{"answer": "x", "claims": [{"text": "x", "chunk_ids": ["eu#1"]}]}`)

			_, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence, Directive: directive})
			Expect(err).NotTo(HaveOccurred())
			prompt := script.Prompts()[0]
			Expect(prompt).To(ContainSubstring("- Fines reach 10% of turnover."))
			Expect(prompt).To(ContainSubstring("Remove each of them"))
		})

		It("passes a reviewer's rejection reason to the model", func() {
			script.Reply(`{"answer": "x", "claims": [{"text": "x", "chunk_ids": ["eu#1"]}]}`)

			feedback := &turn.Directive{ReviewerFeedback: "cites the wrong article"}
			_, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence, Directive: feedback})
			Expect(err).NotTo(HaveOccurred())
			prompt := script.Prompts()[0]
			Expect(prompt).To(ContainSubstring("REVIEWER FEEDBACK"))
			Expect(prompt).To(ContainSubstring("cites the wrong article"))
			Expect(prompt).NotTo(ContainSubstring("the evidence does not support"))
		})

		It("drops flagged claims that come back without support", func() {
			script.Reply(`{
				"answer": "Risk management is required. Fines reach 10% of turnover.",
				"claims": [
					{"text": "High-risk systems require a risk management system.", "chunk_ids": ["eu#1"]},
					{"text": "fines reach 10%  of turnover.", "chunk_ids": []}
				]
			}`)

			a, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence, Directive: directive})
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Claims).To(HaveLen(1))
			Expect(a.Claims[0].ChunkIDs).To(Equal([]string{"eu#1"}))
		})
	})

	It("reports unparseable output as a generation fault", func() {
		script.Reply("Here is my answer without JSON.")
		_, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence})
		Expect(fault.Is(err, fault.Generation)).To(BeTrue())
	})

	It("reports an empty answer as a generation fault", func() {
		script.Reply(`{"answer": "  ", "claims": []}`)
		_, err := synth.New(script.Call, nil).Synthesize(ctx, synth.Input{Plan: plan, Evidence: evidence})
		Expect(fault.Is(err, fault.Generation)).To(BeTrue())
	})
})
