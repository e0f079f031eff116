// Package hash implements a deterministic, dependency free Embedder based on
// feature hashing of word unigrams and bigrams. It needs no model server and
// is used for offline runs and tests.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/papercomputeco/warden/pkg/embeddings"
)

// DefaultDimensions is used when the configured dimensions are zero.
const DefaultDimensions = 256

// Embedder hashes tokens into a fixed-size, L2-normalized vector.
type Embedder struct {
	dims int
}

// NewEmbedder creates a hashing embedder with the given dimensions.
func NewEmbedder(dims uint) *Embedder {
	if dims == 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: int(dims)}
}

// Embed converts text into a vector embedding. Identical text always yields
// an identical vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	tokens := Tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}

	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Close releases resources held by the embedder.
func (e *Embedder) Close() error {
	return nil
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ embeddings.Embedder = (*Embedder)(nil)
