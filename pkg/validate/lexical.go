package validate

import (
	"context"

	"github.com/elliotchance/pie/v2"

	"github.com/papercomputeco/warden/pkg/embeddings/hash"
	"github.com/papercomputeco/warden/pkg/turn"
)

const (
	// DefaultLexicalThreshold is the content-word containment a claim needs
	// to be entailed lexically.
	DefaultLexicalThreshold = 0.6

	// lowEvidenceBoost raises the threshold in low-evidence mode.
	lowEvidenceBoost = 0.2

	// ambiguityBand is how far below the threshold a claim is ambiguous
	// rather than not entailed.
	ambiguityBand = 0.15
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "with": true, "that": true,
	"this": true, "from": true, "must": true, "should": true, "have": true, "has": true,
	"been": true, "was": true, "were": true, "will": true, "can": true, "its": true,
	"their": true, "they": true, "which": true, "into": true, "also": true, "such": true,
	"any": true, "all": true, "not": true, "but": true, "may": true, "under": true,
}

// Lexical entails a claim when enough of its content words occur in one
// cited chunk.
type Lexical struct {
	Threshold float64
}

// Entail implements Entailer.
func (l Lexical) Entail(_ context.Context, claim string, cited []turn.EvidenceChunk, lowEvidence bool) (turn.Entailment, string, error) {
	threshold := l.Threshold
	if threshold <= 0 {
		threshold = DefaultLexicalThreshold
	}
	if lowEvidence {
		threshold = min(threshold+lowEvidenceBoost, 1.0)
	}

	words := ContentWords(claim)
	if len(words) == 0 {
		return turn.Ambiguous, "", nil
	}

	best, bestID := 0.0, ""
	for _, c := range cited {
		chunkWords := pie.Unique(hash.Tokenize(c.Text))
		present := pie.Filter(words, func(w string) bool { return pie.Contains(chunkWords, w) })
		ratio := float64(len(present)) / float64(len(words))
		if ratio > best {
			best, bestID = ratio, c.ID
		}
	}

	switch {
	case best >= threshold:
		return turn.Entailed, bestID, nil
	case best >= threshold-ambiguityBand:
		return turn.Ambiguous, "", nil
	default:
		return turn.NotEntailed, "", nil
	}
}

// ContentWords returns the distinct non-stopword tokens of s that carry
// meaning (three or more characters, or any token containing a digit).
func ContentWords(s string) []string {
	return pie.Unique(pie.Filter(hash.Tokenize(s), func(w string) bool {
		if stopwords[w] {
			return false
		}
		return len([]rune(w)) >= 3 || hasDigit(w)
	}))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
