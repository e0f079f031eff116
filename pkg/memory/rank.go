package memory

import (
	"cmp"
	"slices"
	"time"
)

const (
	// DefaultSimilarityThreshold is the similarity at or above which a new
	// fact is merged into an existing record.
	DefaultSimilarityThreshold = 0.85

	// RecencyWindow is the age at which a record's recency score reaches zero.
	RecencyWindow = 30 * 24 * time.Hour

	weightSimilarity = 0.5
	weightRecency    = 0.3
	weightConfidence = 0.2

	// confidenceBoost is added each time a fact is observed again.
	confidenceBoost = 0.1
)

// Recency decays linearly from 1 at now to 0 at RecencyWindow.
func Recency(updatedAt, now time.Time) float64 {
	age := now.Sub(updatedAt)
	if age <= 0 {
		return 1
	}
	if age >= RecencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(RecencyWindow)
}

// HybridScore blends similarity, recency and confidence.
func HybridScore(similarity float64, updatedAt time.Time, confidence float64, now time.Time) float64 {
	return weightSimilarity*similarity +
		weightRecency*Recency(updatedAt, now) +
		weightConfidence*confidence
}

// Merge folds an incoming observation into an existing record. The id,
// owner and creation time are preserved. The newer text wins and confidence
// grows with each repeated observation.
func Merge(existing, incoming Record, now time.Time) Record {
	merged := existing
	merged.Text = incoming.Text
	if incoming.Category != "" {
		merged.Category = incoming.Category
	}
	merged.Confidence = min(max(existing.Confidence, incoming.Confidence)+confidenceBoost, 1.0)
	merged.UpdatedAt = now
	if incoming.SourceTurnID != "" {
		merged.SourceTurnID = incoming.SourceTurnID
	}
	merged.Score = 0
	return merged
}

// SortByScore orders records best first, breaking ties by id.
func SortByScore(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Clamp bounds a confidence to [0, 1], defaulting zero to 0.5.
func Clamp(confidence float64) float64 {
	if confidence <= 0 {
		return 0.5
	}
	return min(confidence, 1.0)
}
