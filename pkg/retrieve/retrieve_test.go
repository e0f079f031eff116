package retrieve_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/retrieve"
	testutils "github.com/papercomputeco/warden/pkg/utils/test"
	"github.com/papercomputeco/warden/pkg/vector"
)

var _ = Describe("Retriever", func() {
	var (
		ctx      context.Context
		index    *testutils.MockVectorDriver
		embedder *testutils.MockEmbedder
	)

	add := func(id, source, page string, emb []float32) {
		Expect(index.Add(ctx, []vector.Document{{
			ID:        id,
			Content:   "text of " + id,
			Embedding: emb,
			Metadata:  map[string]string{"source": source, "page": page},
		}})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		index = testutils.NewMockVectorDriver()
		embedder = testutils.NewMockEmbedder()
		embedder.Embeddings["eu ai act requirements"] = []float32{1, 0}

		add("eu#1", "eu-ai-act.pdf", "3", []float32{1, 0})
		add("eu#2", "eu-ai-act.pdf", "4", []float32{0.9, 0.1})
		add("nist#1", "nist-ai-rmf.pdf", "7", []float32{0.8, 0.2})
		add("far#1", "iso-42001.pdf", "1", []float32{0, 1})
	})

	It("orders evidence by score and drops low scores", func() {
		r := retrieve.New(index, embedder, retrieve.Config{})
		chunks, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
		Expect(err).NotTo(HaveOccurred())

		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		Expect(ids).To(Equal([]string{"eu#1", "eu#2", "nist#1"}))
		Expect(chunks[0].SourceID).To(Equal("eu-ai-act.pdf"))
		Expect(chunks[0].Locator).To(Equal("p. 3"))
		Expect(chunks[0].Score).To(BeNumerically("~", 1.0, 1e-6))
	})

	It("is deterministic for identical queries", func() {
		add("eu#0", "eu-ai-act.pdf", "2", []float32{1, 0})
		r := retrieve.New(index, embedder, retrieve.Config{})

		first, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
		Expect(err).NotTo(HaveOccurred())
		for range 5 {
			again, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(first))
		}
		Expect(first[0].ID).To(Equal("eu#0"))
		Expect(first[1].ID).To(Equal("eu#1"))
	})

	It("caps chunks per source", func() {
		for i := range 6 {
			add(fmt.Sprintf("gdpr#%d", i), "gdpr.pdf", "1", []float32{1, 0.01 * float32(i)})
		}
		r := retrieve.New(index, embedder, retrieve.Config{MaxPerSource: 2, TopK: 10})
		chunks, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
		Expect(err).NotTo(HaveOccurred())

		counts := map[string]int{}
		for _, c := range chunks {
			counts[c.SourceID]++
		}
		Expect(counts["gdpr.pdf"]).To(Equal(2))
		Expect(counts["eu-ai-act.pdf"]).To(Equal(2))
	})

	It("honors top-k", func() {
		r := retrieve.New(index, embedder, retrieve.Config{})
		chunks, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements", TopK: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(1))
	})

	It("restricts to source filters", func() {
		r := retrieve.New(index, embedder, retrieve.Config{})
		chunks, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements", Sources: []string{"nist-ai-rmf.pdf"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(1))
		Expect(chunks[0].ID).To(Equal("nist#1"))
	})

	It("returns an empty result for an empty index", func() {
		r := retrieve.New(testutils.NewMockVectorDriver(), embedder, retrieve.Config{})
		chunks, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(BeEmpty())
	})

	It("reports an unavailable index as a retrieval fault", func() {
		index.FailQuery = true
		r := retrieve.New(index, embedder, retrieve.Config{})
		_, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
		Expect(fault.Is(err, fault.Retrieval)).To(BeTrue())
		Expect(err).To(MatchError(vector.ErrConnection))
	})

	It("reports embedding failures as a retrieval fault", func() {
		embedder.FailAll = true
		r := retrieve.New(index, embedder, retrieve.Config{})
		_, err := r.Retrieve(ctx, retrieve.Query{Text: "eu ai act requirements"})
		Expect(fault.Is(err, fault.Retrieval)).To(BeTrue())
	})
})

var _ = Describe("Reformulate", func() {
	It("appends the first two unsupported claims", func() {
		Expect(retrieve.Reformulate("q", []string{"a", "b", "c"})).To(Equal("q a b"))
		Expect(retrieve.Reformulate("q", nil)).To(Equal("q"))
	})
})
