// Package synth generates candidate answers whose claims cite evidence
// chunks explicitly.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/llm"
	"github.com/papercomputeco/warden/pkg/turn"
)

const maxChunkChars = 1200

// Input is everything a synthesis sees.
type Input struct {
	Plan     turn.Plan
	Evidence []turn.EvidenceChunk

	// Directive carries what the previous attempt got wrong: unsupported
	// claims, or a reviewer's rejection reason.
	Directive *turn.Directive

	Strict bool
}

// Synthesizer produces candidate answers with one model call.
type Synthesizer struct {
	llmCall llm.CallFunc
	logger  *slog.Logger
}

// New creates a Synthesizer.
func New(llmCall llm.CallFunc, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synthesizer{llmCall: llmCall, logger: logger}
}

type answerResponse struct {
	Answer string `json:"answer"`
	Claims []struct {
		Text     string   `json:"text"`
		ChunkIDs []string `json:"chunk_ids"`
	} `json:"claims"`
}

// Synthesize returns a new candidate answer. Citations to chunks outside
// the evidence set are discarded, so every remaining citation is real.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (turn.CandidateAnswer, error) {
	response, err := s.llmCall(ctx, buildPrompt(in))
	if err != nil {
		return turn.CandidateAnswer{}, fault.New(fault.Generation, "synthesize.llm", err)
	}

	var resp answerResponse
	if err := llm.DecodeJSON(response, &resp); err != nil {
		return turn.CandidateAnswer{}, fault.New(fault.Generation, "synthesize.parse", err)
	}

	known := make(map[string]bool, len(in.Evidence))
	for _, c := range in.Evidence {
		known[c.ID] = true
	}
	flagged := make(map[string]bool)
	if in.Directive != nil {
		for _, c := range in.Directive.UnsupportedClaims {
			flagged[normalize(c)] = true
		}
	}

	var (
		claims     []turn.Claim
		dropped    int
		repeated   int
		claimTexts []string
	)
	for _, rc := range resp.Claims {
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			continue
		}
		var ids []string
		for _, id := range rc.ChunkIDs {
			if known[id] {
				ids = append(ids, id)
			} else {
				dropped++
			}
		}
		// A flagged claim may come back only if it is now grounded.
		if flagged[normalize(text)] && len(ids) == 0 {
			repeated++
			continue
		}
		claims = append(claims, turn.Claim{Text: text, ChunkIDs: ids})
		claimTexts = append(claimTexts, text)
	}

	answer := strings.TrimSpace(resp.Answer)
	if answer == "" {
		answer = strings.Join(claimTexts, " ")
	}
	if answer == "" {
		return turn.CandidateAnswer{}, fault.Newf(fault.Generation, "synthesize.parse", "model returned an empty answer")
	}

	// An answer without claims would validate vacuously, so it is treated
	// as one uncited claim.
	if len(claims) == 0 {
		claims = []turn.Claim{{Text: answer}}
	}

	s.logger.Debug("synthesized answer",
		"claims", len(claims),
		"dropped_citations", dropped,
		"dropped_repeated_claims", repeated,
		"refinement", in.Directive != nil,
	)
	return turn.CandidateAnswer{Text: answer, Claims: claims}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(`You are an AI compliance and security expert. Answer the question using ONLY the evidence below.
Break the answer into atomic claims. Every claim must list the ids of the evidence chunks that support it.
Do not cite chunks that do not support the claim. Do not make claims the evidence does not support.

`)
	fmt.Fprintf(&b, "QUESTION: %s\nQUERY TYPE: %s\n\n", in.Plan.NormalizedQuery, in.Plan.QueryType)

	if len(in.Plan.RelevantFacts) > 0 {
		b.WriteString("ABOUT THE USER (tailor the answer, never cite these):\n")
		for _, f := range in.Plan.RelevantFacts {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("EVIDENCE:\n")
	if len(in.Evidence) == 0 {
		b.WriteString("None was found.\n")
	}
	for _, c := range in.Evidence {
		text := c.Text
		if len(text) > maxChunkChars {
			text = text[:maxChunkChars] + "..."
		}
		fmt.Fprintf(&b, "[%s] (%s %s)\n%s\n\n", c.ID, c.SourceID, c.Locator, text)
	}

	if in.Plan.LowEvidence {
		b.WriteString(`
LOW EVIDENCE: little or no evidence is available. Say plainly that the documents do not cover the question
and make as few claims as possible. Never invent citations.
`)
	}

	if in.Directive != nil && len(in.Directive.UnsupportedClaims) > 0 {
		b.WriteString("\nA previous answer made these claims that the evidence does not support:\n")
		for _, c := range in.Directive.UnsupportedClaims {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("Remove each of them, or restate it so that it is supported by a cited chunk.\n")
	}

	if in.Directive != nil && in.Directive.ReviewerFeedback != "" {
		b.WriteString("\nREVIEWER FEEDBACK: a compliance reviewer rejected the previous answer for this reason:\n")
		fmt.Fprintf(&b, "%s\n", in.Directive.ReviewerFeedback)
		b.WriteString("Rewrite the answer to address it, using only the evidence above.\n")
	}

	b.WriteString(`
Return JSON:
{
  "answer": "the full answer as prose",
  "claims": [{"text": "one atomic claim", "chunk_ids": ["chunk id", "..."]}]
}`)
	if in.Strict {
		b.WriteString("\n\nReturn ONLY valid JSON, no markdown. Every chunk id must appear in the EVIDENCE list above.")
	}
	return b.String()
}
