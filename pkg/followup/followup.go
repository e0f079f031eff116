// Package followup suggests questions that would let the user get a better
// grounded answer.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/warden/pkg/llm"
)

const maxQuestions = 3

// Input describes what the turn could not cover.
type Input struct {
	Query             string
	MissingContext    []string
	UnsupportedClaims []string
}

// Needed reports whether there is anything worth following up on.
func (in Input) Needed() bool {
	return len(in.MissingContext) > 0 || len(in.UnsupportedClaims) > 0
}

// Generator asks the model for follow-up questions.
type Generator struct {
	llmCall llm.CallFunc
	logger  *slog.Logger
}

// New creates a Generator.
func New(llmCall llm.CallFunc, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{llmCall: llmCall, logger: logger}
}

// Generate returns up to three questions. It is best effort: any failure
// yields none.
func (g *Generator) Generate(ctx context.Context, in Input) []string {
	if !in.Needed() || g.llmCall == nil {
		return nil
	}

	response, err := g.llmCall(ctx, buildPrompt(in))
	if err != nil {
		g.logger.Debug("follow-up generation failed", "error", err)
		return nil
	}

	var resp struct {
		Questions []string `json:"questions"`
	}
	if err := llm.DecodeJSON(response, &resp); err != nil {
		g.logger.Debug("follow-up output unparseable", "error", err)
		return nil
	}

	var out []string
	for _, q := range resp.Questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == maxQuestions {
			break
		}
	}
	return out
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A user asked: %q\n\n", in.Query)
	if len(in.MissingContext) > 0 {
		b.WriteString("The answer was limited by missing context:\n")
		for _, m := range in.MissingContext {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	if len(in.UnsupportedClaims) > 0 {
		b.WriteString("These points could not be confirmed from the documents:\n")
		for _, c := range in.UnsupportedClaims {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString(`
Write 2-3 short, specific follow-up questions the user could answer or ask next to get a better grounded answer.
Return ONLY JSON: {"questions": ["...", "..."]}`)
	return b.String()
}
