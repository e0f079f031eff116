package approval_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/turn"
)

type gateFunc func(ctx context.Context, p approval.Pending) (approval.Decision, error)

func (f gateFunc) Await(ctx context.Context, p approval.Pending) (approval.Decision, error) {
	return f(ctx, p)
}

var _ = Describe("Request", func() {
	pending := approval.Pending{TurnID: "t1", UserID: "alice", Answer: "answer"}

	It("returns the gate's decision", func() {
		d, err := approval.Request(context.Background(), approval.Auto{Approve: true}, pending, time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Status).To(Equal(turn.ApprovalApproved))
		Expect(d.Reviewer).To(Equal("auto"))
	})

	It("rejects when no decision arrives before the timeout", func() {
		broker := approval.NewBroker(nil)
		d, err := approval.Request(context.Background(), broker, pending, 20*time.Millisecond)
		Expect(fault.Is(err, fault.ApprovalTimeout)).To(BeTrue())
		Expect(d.Status).To(Equal(turn.ApprovalRejected))
		Expect(d.Reason).To(Equal(approval.ReasonTimeout))
		Expect(broker.Pending()).To(BeEmpty())
	})

	It("rejects when the gate fails", func() {
		gate := gateFunc(func(context.Context, approval.Pending) (approval.Decision, error) {
			return approval.Decision{}, errors.New("tty gone")
		})
		d, err := approval.Request(context.Background(), gate, pending, time.Second)
		Expect(fault.Is(err, fault.ApprovalTimeout)).To(BeTrue())
		Expect(d.Status).To(Equal(turn.ApprovalRejected))
		Expect(d.Reason).To(Equal(approval.ReasonGateFailed))
	})

	It("rejects decisions that are still pending", func() {
		gate := gateFunc(func(context.Context, approval.Pending) (approval.Decision, error) {
			return approval.Decision{Status: turn.ApprovalPending}, nil
		})
		d, err := approval.Request(context.Background(), gate, pending, time.Second)
		Expect(err).To(HaveOccurred())
		Expect(d.Status).To(Equal(turn.ApprovalRejected))
	})

	It("returns the parent's error when the turn is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d, err := approval.Request(ctx, approval.NewBroker(nil), pending, time.Second)
		Expect(err).To(MatchError(context.Canceled))
		Expect(d.Status).To(BeEmpty())
	})
})

var _ = Describe("Broker", func() {
	It("delivers an external decision to the waiting turn", func() {
		broker := approval.NewBroker(nil)
		done := make(chan approval.Decision, 1)

		go func() {
			defer GinkgoRecover()
			d, err := broker.Await(context.Background(), approval.Pending{TurnID: "t1", RequestedAt: time.Now()})
			Expect(err).NotTo(HaveOccurred())
			done <- d
		}()

		Eventually(broker.Pending).Should(HaveLen(1))
		Expect(broker.Decide("t1", approval.Approved("carol"))).To(Succeed())
		Eventually(done).Should(Receive(HaveField("Reviewer", "carol")))
		Expect(broker.Pending()).To(BeEmpty())
	})

	It("returns ErrUnknownTurn for turns that are not waiting", func() {
		broker := approval.NewBroker(nil)
		Expect(broker.Decide("missing", approval.Approved("carol"))).To(MatchError(approval.ErrUnknownTurn))
	})

	It("refuses a second decision for the same turn", func() {
		broker := approval.NewBroker(nil)
		go func() {
			_, _ = broker.Await(context.Background(), approval.Pending{TurnID: "t1"})
		}()
		Eventually(broker.Pending).Should(HaveLen(1))
		Expect(broker.Decide("t1", approval.Rejected("carol", "wrong article"))).To(Succeed())
		Expect(broker.Decide("t1", approval.Approved("dave"))).To(MatchError(approval.ErrUnknownTurn))
	})

	It("validates decisions", func() {
		broker := approval.NewBroker(nil)
		err := broker.Decide("t1", approval.Decision{Status: turn.ApprovalPending})
		Expect(err).To(MatchError(approval.ErrInvalidDecision))
	})

	It("lists pending answers oldest first", func() {
		broker := approval.NewBroker(nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		now := time.Now()
		go func() { _, _ = broker.Await(ctx, approval.Pending{TurnID: "late", RequestedAt: now.Add(time.Minute)}) }()
		go func() { _, _ = broker.Await(ctx, approval.Pending{TurnID: "early", RequestedAt: now}) }()

		Eventually(broker.Pending).Should(HaveLen(2))
		ids := []string{broker.Pending()[0].TurnID, broker.Pending()[1].TurnID}
		Expect(ids).To(Equal([]string{"early", "late"}))
	})
})

var _ = Describe("Auto", func() {
	It("rejects when configured to", func() {
		d, err := approval.Auto{Reviewer: "policy", Reason: "auto-reject"}.Await(context.Background(), approval.Pending{})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Status).To(Equal(turn.ApprovalRejected))
		Expect(d.Reviewer).To(Equal("policy"))
	})
})

var _ = Describe("Prompt", func() {
	It("re-prompts until it reads y or n", func() {
		var out strings.Builder
		p := approval.NewPrompt(strings.NewReader("maybe\nY\n"), &out, "carol")

		d, err := p.Await(context.Background(), approval.Pending{TurnID: "t1", Answer: "grounded answer"})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Status).To(Equal(turn.ApprovalApproved))
		Expect(d.Reviewer).To(Equal("carol"))
		Expect(strings.Count(out.String(), "Approve this answer?")).To(Equal(2))
		Expect(out.String()).To(ContainSubstring("grounded answer"))
	})

	It("rejects on n", func() {
		p := approval.NewPrompt(strings.NewReader("no\n"), io.Discard, "")
		d, err := p.Await(context.Background(), approval.Pending{})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Status).To(Equal(turn.ApprovalRejected))
		Expect(d.Reviewer).To(Equal("terminal"))
	})

	It("shares its reader with ReadLine", func() {
		p := approval.NewPrompt(strings.NewReader("first question\ny\n"), io.Discard, "")
		line, err := p.ReadLine(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(line).To(Equal("first question"))

		d, err := p.Await(context.Background(), approval.Pending{})
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Status).To(Equal(turn.ApprovalApproved))

		_, err = p.ReadLine(context.Background())
		Expect(err).To(MatchError(io.EOF))
	})

	It("stops waiting when ctx ends", func() {
		r, w := io.Pipe()
		defer w.Close()
		p := approval.NewPrompt(r, io.Discard, "")

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := p.Await(ctx, approval.Pending{})
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
