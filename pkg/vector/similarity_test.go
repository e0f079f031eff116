package vector_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/vector"
)

var _ = Describe("Cosine", func() {
	It("is 1 for parallel vectors", func() {
		Expect(vector.Cosine([]float32{1, 2}, []float32{2, 4})).To(BeNumerically("~", 1.0, 1e-6))
	})

	It("is 0 for orthogonal, empty or mismatched vectors", func() {
		Expect(vector.Cosine([]float32{1, 0}, []float32{0, 1})).To(BeZero())
		Expect(vector.Cosine(nil, nil)).To(BeZero())
		Expect(vector.Cosine([]float32{1}, []float32{1, 0})).To(BeZero())
		Expect(vector.Cosine([]float32{0, 0}, []float32{1, 0})).To(BeZero())
	})
})

var _ = Describe("SortResults", func() {
	It("orders by score then id", func() {
		results := []vector.QueryResult{
			{Document: vector.Document{ID: "b"}, Score: 0.5},
			{Document: vector.Document{ID: "c"}, Score: 0.9},
			{Document: vector.Document{ID: "a"}, Score: 0.5},
		}
		vector.SortResults(results)
		Expect([]string{results[0].ID, results[1].ID, results[2].ID}).To(Equal([]string{"c", "a", "b"}))
	})
})

var _ = Describe("Filter", func() {
	It("matches when every key is equal", func() {
		f := vector.Filter{"source": "gdpr", "lang": "en"}
		Expect(f.Matches(map[string]string{"source": "gdpr", "lang": "en", "page": "3"})).To(BeTrue())
		Expect(f.Matches(map[string]string{"source": "gdpr"})).To(BeFalse())
	})

	It("matches everything when nil", func() {
		var f vector.Filter
		Expect(f.Matches(nil)).To(BeTrue())
	})
})
