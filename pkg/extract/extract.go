// Package extract derives durable facts about a user from what the user
// wrote, and commits them to the memory gateway.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elliotchance/pie/v2"

	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/llm"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/validate"
)

// minAttribution is the share of a fact's content words that must appear
// in the user's own text.
const minAttribution = 0.75

// subjectWords refer to the user and never count against attribution.
var subjectWords = map[string]bool{"user": true, "users": true, "their": true, "they": true, "them": true}

// Input is one user turn.
type Input struct {
	UserID   string
	TurnID   string
	UserText string

	// Existing facts help the model avoid restating known facts in new words.
	Existing []memory.Record
}

// Extractor proposes facts with one model call, falling back to phrase
// rules when the model is unavailable or returns garbage.
type Extractor struct {
	llmCall llm.CallFunc
	logger  *slog.Logger
}

// New creates an Extractor. A nil llmCall uses the rules only.
func New(llmCall llm.CallFunc, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{llmCall: llmCall, logger: logger}
}

type proposedFact struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type extractResponse struct {
	Facts []proposedFact `json:"facts"`
}

// Extract returns proposed records attributable to in.UserText. It never
// fails; model errors fall back to rules.
func (e *Extractor) Extract(ctx context.Context, in Input) []memory.Record {
	text := strings.TrimSpace(in.UserText)
	if text == "" {
		return nil
	}

	proposed, err := e.fromModel(ctx, in)
	if err != nil {
		e.logger.Debug("model fact extraction failed, using rules", "error", err)
		proposed = Rules(text)
	}

	var out []memory.Record
	seen := make(map[string]bool)
	for _, p := range proposed {
		p.Text = strings.TrimSpace(p.Text)
		key := strings.ToLower(p.Text)
		if p.Text == "" || seen[key] {
			continue
		}
		if !Attributable(p.Text, text) {
			e.logger.Debug("dropping unattributable fact", "fact", p.Text)
			continue
		}
		seen[key] = true

		p.UserID = in.UserID
		p.SourceTurnID = in.TurnID
		p.Category = memory.ParseCategory(string(p.Category))
		p.Confidence = memory.Clamp(p.Confidence)
		out = append(out, p)
	}
	return out
}

// Learn extracts facts and upserts each into gw. Upsert failures are
// memory faults: they are logged and counted, never returned to the
// answer path. It returns how many facts were stored.
func (e *Extractor) Learn(ctx context.Context, gw memory.Gateway, in Input) int {
	stored := 0
	for _, r := range e.Extract(ctx, in) {
		if _, err := gw.Upsert(ctx, r); err != nil {
			e.logger.Warn("storing fact failed",
				"user_id", in.UserID,
				"turn_id", in.TurnID,
				"error", fault.New(fault.Memory, "extract.upsert", err),
			)
			continue
		}
		stored++
	}
	if stored > 0 {
		e.logger.Info("learned user facts", "user_id", in.UserID, "turn_id", in.TurnID, "facts", stored)
	}
	return stored
}

func (e *Extractor) fromModel(ctx context.Context, in Input) ([]memory.Record, error) {
	if e.llmCall == nil {
		return nil, errors.New("no model configured")
	}

	response, err := e.llmCall(ctx, buildPrompt(in))
	if err != nil {
		return nil, err
	}

	var resp extractResponse
	if err := llm.DecodeJSON(response, &resp); err != nil {
		return nil, err
	}

	return pie.Map(resp.Facts, func(f proposedFact) memory.Record {
		return memory.Record{Text: f.Text, Category: memory.Category(f.Category), Confidence: f.Confidence}
	}), nil
}

// Attributable reports whether enough of fact's content words occur in
// userText. Words are compared after trimming common inflections.
func Attributable(fact, userText string) bool {
	words := pie.Filter(validate.ContentWords(fact), func(w string) bool { return !subjectWords[w] })
	if len(words) == 0 {
		return false
	}

	source := pie.Map(validate.ContentWords(userText), stem)
	present := pie.Filter(words, func(w string) bool { return pie.Contains(source, stem(w)) })
	return float64(len(present))/float64(len(words)) >= minAttribution
}

func stem(w string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 3 {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(`You extract durable facts about a user from their own message.

Categories:
- preference: how they want answers (e.g. "Prefers concise answers")
- context: who they are, where they work, what they build (e.g. "Works at Acme Bank")
- constraint: rules they must follow (e.g. "Must comply with HIPAA")

Rules:
- Only facts the user explicitly states about themselves or their organization.
- Never extract general knowledge, questions, or facts about third parties.
- Reuse the user's own words.

`)
	if len(in.Existing) > 0 {
		b.WriteString("ALREADY KNOWN (repeat a fact only if the user restates it):\n")
		for _, r := range in.Existing {
			fmt.Fprintf(&b, "- %s\n", r.Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "USER MESSAGE: %q\n\n", in.UserText)
	b.WriteString(`Return ONLY JSON:
{"facts": [{"text": "fact", "category": "preference | context | constraint", "confidence": 0.0-1.0}]}
Return {"facts": []} when the message states nothing about the user.`)
	return b.String()
}
