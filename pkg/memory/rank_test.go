package memory_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/memory"
)

var _ = Describe("ranking", func() {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	DescribeTable("Recency",
		func(age time.Duration, expected float64) {
			Expect(memory.Recency(now.Add(-age), now)).To(BeNumerically("~", expected, 1e-9))
		},
		Entry("fresh", time.Duration(0), 1.0),
		Entry("future timestamps clamp to fresh", -time.Hour, 1.0),
		Entry("half window", 15*24*time.Hour, 0.5),
		Entry("at window", 30*24*time.Hour, 0.0),
		Entry("beyond window", 90*24*time.Hour, 0.0),
	)

	It("weights similarity, recency and confidence", func() {
		score := memory.HybridScore(0.8, now, 0.5, now)
		Expect(score).To(BeNumerically("~", 0.5*0.8+0.3*1+0.2*0.5, 1e-9))
	})

	Describe("Merge", func() {
		existing := memory.Record{
			ID:         "r1",
			UserID:     "alice",
			Text:       "works at Acme",
			Category:   memory.CategoryContext,
			Confidence: 0.5,
			CreatedAt:  now.Add(-time.Hour),
			UpdatedAt:  now.Add(-time.Hour),
		}

		It("keeps identity and raises confidence", func() {
			merged := memory.Merge(existing, memory.Record{Text: "works at Acme Corp", Confidence: 0.4}, now)
			Expect(merged.ID).To(Equal("r1"))
			Expect(merged.CreatedAt).To(Equal(existing.CreatedAt))
			Expect(merged.UpdatedAt).To(Equal(now))
			Expect(merged.Text).To(Equal("works at Acme Corp"))
			Expect(merged.Confidence).To(BeNumerically("~", 0.6, 1e-9))
			Expect(merged.Category).To(Equal(memory.CategoryContext))
		})

		It("caps confidence", func() {
			merged := memory.Merge(existing, memory.Record{Text: "x", Confidence: 0.97}, now)
			Expect(merged.Confidence).To(Equal(1.0))
		})
	})

	It("sorts by score with id tie-break", func() {
		records := []memory.Record{{ID: "b", Score: 0.5}, {ID: "a", Score: 0.5}, {ID: "c", Score: 0.9}}
		memory.SortByScore(records)
		Expect([]string{records[0].ID, records[1].ID, records[2].ID}).To(Equal([]string{"c", "a", "b"}))
	})

	It("parses unknown categories as context", func() {
		Expect(memory.ParseCategory("preference")).To(Equal(memory.CategoryPreference))
		Expect(memory.ParseCategory("bogus")).To(Equal(memory.CategoryContext))
	})
})

var _ = Describe("UserLocks", func() {
	It("serializes holders of the same user", func() {
		locks := memory.NewUserLocks()
		var (
			inside  atomic.Int32
			maxSeen atomic.Int32
			wg      sync.WaitGroup
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock("alice")
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				unlock()
			}()
		}
		wg.Wait()
		Expect(maxSeen.Load()).To(Equal(int32(1)))
	})

	It("does not block other users", func() {
		locks := memory.NewUserLocks()
		unlock := locks.Lock("alice")
		defer unlock()

		done := make(chan struct{})
		go func() {
			locks.Lock("bob")()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
	})
})
