package vector

import (
	"cmp"
	"math"
	"slices"
)

// Cosine returns the cosine similarity of a and b. Mismatched lengths or
// zero vectors yield 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// SortResults orders results by descending score, breaking ties by ID so
// that identical store state always produces identical order.
func SortResults(results []QueryResult) {
	slices.SortStableFunc(results, func(a, b QueryResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
