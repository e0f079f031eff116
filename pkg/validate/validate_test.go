package validate_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/turn"
	testutils "github.com/papercomputeco/warden/pkg/utils/test"
	"github.com/papercomputeco/warden/pkg/validate"
)

var evidence = []turn.EvidenceChunk{
	{ID: "eu#1", Text: "Providers of high-risk AI systems shall establish a risk management system."},
	{ID: "eu#2", Text: "High-risk AI systems shall be designed to allow automatic recording of logs."},
}

func claim(text string, ids ...string) turn.Claim {
	return turn.Claim{Text: text, ChunkIDs: ids}
}

var _ = Describe("Validator", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("with lexical entailment", func() {
		var v *validate.Validator

		BeforeEach(func() {
			v = validate.New(validate.Config{})
		})

		It("returns SUPPORTED when every claim is entailed", func() {
			answer := turn.CandidateAnswer{Claims: []turn.Claim{
				claim("Providers of high-risk AI systems must establish a risk management system.", "eu#1"),
				claim("High-risk AI systems must allow automatic recording of logs.", "eu#2"),
			}}

			verdict, err := v.Validate(ctx, answer, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.Supported))
			Expect(verdict.Directive).To(BeNil())
			Expect(verdict.Grade).To(Equal(turn.GradeExcellent))
			Expect(verdict.Checks[1].SupportedBy).To(Equal("eu#2"))
		})

		It("returns PARTIALLY_SUPPORTED with a directive for the rest", func() {
			answer := turn.CandidateAnswer{Claims: []turn.Claim{
				claim("Providers of high-risk AI systems must establish a risk management system.", "eu#1"),
				claim("Fines reach seven percent of global turnover.", "eu#2"),
			}}

			verdict, err := v.Validate(ctx, answer, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.PartiallySupported))
			Expect(verdict.UnsupportedClaims).To(Equal([]string{"Fines reach seven percent of global turnover."}))
			Expect(verdict.Directive.UnsupportedClaims).To(Equal(verdict.UnsupportedClaims))
		})

		It("returns UNSUPPORTED when nothing is entailed", func() {
			answer := turn.CandidateAnswer{Claims: []turn.Claim{claim("Quantum encryption is mandatory.", "eu#1")}}

			verdict, err := v.Validate(ctx, answer, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.Unsupported))
			Expect(verdict.Grade).To(Equal(turn.GradePoor))
		})

		It("never entails claims without valid citations", func() {
			answer := turn.CandidateAnswer{Claims: []turn.Claim{
				claim("Providers of high-risk AI systems shall establish a risk management system."),
				claim("Providers of high-risk AI systems shall establish a risk management system.", "ghost"),
			}}

			verdict, err := v.Validate(ctx, answer, nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.Unsupported))
			Expect(verdict.Notes).To(ContainElement("validated in low-evidence mode"))
		})

		It("treats an answer without claims as unsupported", func() {
			verdict, err := v.Validate(ctx, turn.CandidateAnswer{Text: "hi"}, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.Unsupported))
		})
	})

	Describe("with llm entailment", func() {
		It("resolves ambiguous claims as unsupported", func() {
			script := &testutils.ScriptedLLM{Handler: func(_ context.Context, prompt string) (string, error) {
				if strings.Contains(prompt, "risk management") {
					return `{"entailment": "entailed", "chunk_id": "eu#1"}`, nil
				}
				return `{"entailment": "ambiguous"}`, nil
			}}
			v := validate.New(validate.Config{Primary: validate.LLM{Call: script.Call}})

			answer := turn.CandidateAnswer{Claims: []turn.Claim{
				claim("A risk management system is required.", "eu#1"),
				claim("Logging is probably optional.", "eu#2"),
			}}
			verdict, err := v.Validate(ctx, answer, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.PartiallySupported))
			Expect(verdict.Checks[1].Entailment).To(Equal(turn.Ambiguous))
			Expect(verdict.UnsupportedClaims).To(ConsistOf("Logging is probably optional."))
		})

		It("falls back to lexical entailment when the model errors", func() {
			script := &testutils.ScriptedLLM{Handler: func(context.Context, string) (string, error) {
				return "", errors.New("rate limited")
			}}
			v := validate.New(validate.Config{Primary: validate.LLM{Call: script.Call}, Fallback: validate.Lexical{}})

			answer := turn.CandidateAnswer{Claims: []turn.Claim{
				claim("High-risk AI systems must allow automatic recording of logs.", "eu#2"),
			}}
			verdict, err := v.Validate(ctx, answer, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Outcome).To(Equal(turn.Supported))
		})

		It("substitutes a cited chunk when the model names an uncited one", func() {
			script := &testutils.ScriptedLLM{}
			script.Reply(`{"entailment": "entailed", "chunk_id": "eu#9"}`)
			v := validate.New(validate.Config{Primary: validate.LLM{Call: script.Call}})

			verdict, err := v.Validate(ctx, turn.CandidateAnswer{Claims: []turn.Claim{claim("x", "eu#2")}}, evidence, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(verdict.Checks[0].SupportedBy).To(Equal("eu#2"))
		})

		It("returns the context error when cancelled", func() {
			script := &testutils.ScriptedLLM{Handler: func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}}
			v := validate.New(validate.Config{Primary: validate.LLM{Call: script.Call}})

			ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := v.Validate(ctx, turn.CandidateAnswer{Claims: []turn.Claim{claim("x", "eu#1")}}, evidence, false)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})
})

var _ = Describe("Lexical", func() {
	ctx := context.Background()
	cited := evidence[:1]

	It("raises the bar in low-evidence mode", func() {
		// 4 of 6 content words present: entailed normally, ambiguous when strict.
		c := "providers establish risk management fines audits"
		e, _, err := validate.Lexical{}.Entail(ctx, c, cited, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(turn.Entailed))

		e, _, err = validate.Lexical{}.Entail(ctx, c, cited, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(turn.Ambiguous))
	})

	It("drops stopwords and short tokens", func() {
		Expect(validate.ContentWords("The AI Act and the GDPR")).To(ConsistOf("act", "gdpr"))
		Expect(validate.ContentWords("Article 5 of it")).To(ConsistOf("article", "5"))
	})
})

var _ = Describe("Grade", func() {
	DescribeTable("maps ratios to grades",
		func(supported, coverage float64, expected turn.CitationGrade) {
			Expect(validate.Grade(supported, coverage)).To(Equal(expected))
		},
		Entry("excellent", 0.95, 1.0, turn.GradeExcellent),
		Entry("good", 0.75, 1.0, turn.GradeGood),
		Entry("fair", 0.5, 1.0, turn.GradeFair),
		Entry("poor", 0.0, 1.0, turn.GradePoor),
		Entry("low coverage downgrades", 0.95, 0.4, turn.GradeGood),
		Entry("poor stays poor", 0.0, 0.0, turn.GradePoor),
	)
})

var _ = Describe("TimedOut", func() {
	It("marks every claim unsupported", func() {
		v := validate.TimedOut(turn.CandidateAnswer{Claims: []turn.Claim{claim("a", "eu#1"), claim("b", "eu#2")}})
		Expect(v.Outcome).To(Equal(turn.Unsupported))
		Expect(v.TimedOut).To(BeTrue())
		Expect(v.UnsupportedClaims).To(Equal([]string{"a", "b"}))
	})
})
