package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/eventstream"
	"github.com/papercomputeco/warden/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	var p *nop.Publisher

	BeforeEach(func() {
		p = nop.NewPublisher()
	})

	It("satisfies eventstream.Publisher", func() {
		var _ eventstream.Publisher = p
	})

	It("rejects nil events without counting them", func() {
		Expect(p.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
		Expect(p.Published()).To(BeZero())
	})

	It("counts accepted events", func() {
		event := eventstream.NewTurnCompletedEvent(
			eventstream.EventSource{Agent: "warden", Provider: "ollama", MemoryBackend: "local"},
			eventstream.TurnMeta{TurnID: "t1", UserID: "alice", State: "DELIVER", Status: "SUPPORTED"},
		)
		Expect(p.Publish(context.Background(), event)).To(Succeed())
		Expect(p.Publish(context.Background(), event)).To(Succeed())
		Expect(p.Published()).To(BeEquivalentTo(2))
		Expect(p.Close()).To(Succeed())
	})
})
