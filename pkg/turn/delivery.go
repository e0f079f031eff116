package turn

// DeliveryStatus labels the delivered answer.
type DeliveryStatus string

const (
	DeliverySupported DeliveryStatus = "SUPPORTED"
	DeliveryPartial   DeliveryStatus = "PARTIALLY_SUPPORTED"
	DeliveryFallback  DeliveryStatus = "FALLBACK"
)

// Citation identifies the evidence behind a delivered answer.
type Citation struct {
	ChunkID  string `json:"chunk_id"`
	SourceID string `json:"source_id"`
	Locator  string `json:"locator,omitempty"`
}

// Delivery is the stable output contract: answer text, its status, and the
// citations backing it.
type Delivery struct {
	Answer    string         `json:"answer"`
	Status    DeliveryStatus `json:"status"`
	Citations []Citation     `json:"citations"`
}

// Citations resolves an answer's cited chunk ids against the evidence set,
// skipping ids that are not in it.
func Citations(a CandidateAnswer, evidence []EvidenceChunk) []Citation {
	byID := make(map[string]EvidenceChunk, len(evidence))
	for _, c := range evidence {
		byID[c.ID] = c
	}

	citations := []Citation{}
	for _, id := range a.ChunkIDs() {
		c, ok := byID[id]
		if !ok {
			continue
		}
		citations = append(citations, Citation{ChunkID: c.ID, SourceID: c.SourceID, Locator: c.Locator})
	}
	return citations
}
