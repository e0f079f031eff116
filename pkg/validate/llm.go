package validate

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/papercomputeco/warden/pkg/llm"
	"github.com/papercomputeco/warden/pkg/turn"
)

// LLM asks the model whether the cited chunks entail a claim.
type LLM struct {
	Call llm.CallFunc
}

type entailResponse struct {
	Entailment string `json:"entailment"`
	ChunkID    string `json:"chunk_id"`
}

// Entail implements Entailer.
func (e LLM) Entail(ctx context.Context, claim string, cited []turn.EvidenceChunk, lowEvidence bool) (turn.Entailment, string, error) {
	response, err := e.Call(ctx, buildEntailPrompt(claim, cited, lowEvidence))
	if err != nil {
		return "", "", err
	}

	var resp entailResponse
	if err := llm.DecodeJSON(response, &resp); err != nil {
		return "", "", err
	}

	switch turn.Entailment(strings.ToLower(strings.TrimSpace(resp.Entailment))) {
	case turn.Entailed:
		ids := make([]string, len(cited))
		for i, c := range cited {
			ids[i] = c.ID
		}
		if slices.Contains(ids, resp.ChunkID) {
			return turn.Entailed, resp.ChunkID, nil
		}
		return turn.Entailed, ids[0], nil
	case turn.NotEntailed:
		return turn.NotEntailed, "", nil
	case turn.Ambiguous:
		return turn.Ambiguous, "", nil
	default:
		return "", "", fmt.Errorf("unknown entailment %q", resp.Entailment)
	}
}

func buildEntailPrompt(claim string, cited []turn.EvidenceChunk, lowEvidence bool) string {
	var b strings.Builder
	b.WriteString(`You are a strict fact checker for compliance answers.
Decide whether the CLAIM is entailed by at least one EVIDENCE chunk. Use only the evidence text, not outside knowledge.

`)
	fmt.Fprintf(&b, "CLAIM: %s\n\nEVIDENCE:\n", claim)
	for _, c := range cited {
		fmt.Fprintf(&b, "[%s] %s\n\n", c.ID, c.Text)
	}
	if lowEvidence {
		b.WriteString("Evidence is scarce. Only answer \"entailed\" if the chunk states the claim directly.\n\n")
	}
	b.WriteString(`Return ONLY JSON:
{"entailment": "entailed | not_entailed | ambiguous", "chunk_id": "id of the chunk that entails the claim, or empty"}`)
	return b.String()
}
