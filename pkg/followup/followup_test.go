package followup_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/followup"
	testutils "github.com/papercomputeco/warden/pkg/utils/test"
)

var _ = Describe("Generator", func() {
	ctx := context.Background()
	in := followup.Input{
		Query:          "What security risks apply to our chatbot?",
		MissingContext: []string{"type of data handled"},
	}

	It("returns at most three questions", func() {
		script := (&testutils.ScriptedLLM{}).Reply(`{"questions": ["What data does it store?", "", "Where is it hosted?", "Who uses it?", "Is it public?"]}`)

		qs := followup.New(script.Call, nil).Generate(ctx, in)
		Expect(qs).To(Equal([]string{"What data does it store?", "Where is it hosted?", "Who uses it?"}))
		Expect(script.Prompts()[0]).To(ContainSubstring("- type of data handled"))
	})

	It("skips the model when nothing is missing", func() {
		script := &testutils.ScriptedLLM{}
		Expect(followup.New(script.Call, nil).Generate(ctx, followup.Input{Query: "q"})).To(BeEmpty())
		Expect(script.Prompts()).To(BeEmpty())
	})

	It("yields none on failure", func() {
		script := (&testutils.ScriptedLLM{}).Fail(errors.New("boom"))
		Expect(followup.New(script.Call, nil).Generate(ctx, in)).To(BeEmpty())

		script = (&testutils.ScriptedLLM{}).Reply("no json here")
		Expect(followup.New(script.Call, nil).Generate(ctx, in)).To(BeEmpty())
	})
})
