package turn_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/turn"
)

var _ = Describe("CandidateAnswer", func() {
	It("collects cited chunk ids without duplicates", func() {
		a := turn.CandidateAnswer{Claims: []turn.Claim{
			{Text: "a", ChunkIDs: []string{"c2", "c1"}},
			{Text: "b", ChunkIDs: []string{"c1", "c3"}},
		}}
		Expect(a.ChunkIDs()).To(Equal([]string{"c2", "c1", "c3"}))
	})
})

var _ = Describe("Citations", func() {
	It("resolves ids against the evidence set", func() {
		a := turn.CandidateAnswer{Claims: []turn.Claim{{Text: "a", ChunkIDs: []string{"c1", "ghost"}}}}
		evidence := []turn.EvidenceChunk{{ID: "c1", SourceID: "eu-ai-act.pdf", Locator: "p. 12"}}

		Expect(turn.Citations(a, evidence)).To(Equal([]turn.Citation{
			{ChunkID: "c1", SourceID: "eu-ai-act.pdf", Locator: "p. 12"},
		}))
	})

	It("returns an empty, non-nil list when nothing is cited", func() {
		Expect(turn.Citations(turn.CandidateAnswer{}, nil)).To(BeEmpty())
		Expect(turn.Citations(turn.CandidateAnswer{}, nil)).NotTo(BeNil())
	})
})

var _ = Describe("State", func() {
	DescribeTable("Terminal",
		func(s turn.State, terminal bool) {
			Expect(s.Terminal()).To(Equal(terminal))
		},
		Entry("deliver", turn.StateDeliver, true),
		Entry("failed", turn.StateFailed, true),
		Entry("validate", turn.StateValidate, false),
		Entry("approval", turn.StateApproval, false),
	)

	It("parses query types", func() {
		Expect(turn.ParseQueryType("comparison")).To(Equal(turn.QueryComparison))
		Expect(turn.ParseQueryType("chit-chat")).To(Equal(turn.QueryGeneral))
	})
})
