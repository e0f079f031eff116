// Package intent turns a raw user query into a structured plan for the turn.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/llm"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/turn"
)

// maxHistoryTurns bounds how much history goes into the prompt.
const maxHistoryTurns = 5

// Input is everything the analyzer sees. It never reads state elsewhere.
type Input struct {
	Query   string
	History []memory.Turn
	Facts   []memory.Record

	// Strict asks for the stricter output contract used on retry.
	Strict bool
}

// Analyzer classifies a query with one model call.
type Analyzer struct {
	llmCall llm.CallFunc
	logger  *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(llmCall llm.CallFunc, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{llmCall: llmCall, logger: logger}
}

type planResponse struct {
	NormalizedQuery string   `json:"normalized_query"`
	NeedsRetrieval  *bool    `json:"needs_retrieval"`
	QueryType       string   `json:"query_type"`
	MissingContext  []string `json:"missing_context"`
	RelevantFacts   []int    `json:"relevant_facts"`
}

// Analyze returns the plan for in. Model failures and unparseable output
// are generation faults.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (turn.Plan, error) {
	response, err := a.llmCall(ctx, buildPrompt(in))
	if err != nil {
		return turn.Plan{}, fault.New(fault.Generation, "intent.llm", err)
	}

	var resp planResponse
	if err := llm.DecodeJSON(response, &resp); err != nil {
		return turn.Plan{}, fault.New(fault.Generation, "intent.parse", err)
	}
	if in.Strict {
		if err := resp.validateStrict(); err != nil {
			return turn.Plan{}, fault.New(fault.Generation, "intent.parse", err)
		}
	}

	plan := turn.Plan{
		NormalizedQuery: strings.TrimSpace(resp.NormalizedQuery),
		NeedsRetrieval:  true,
		QueryType:       turn.ParseQueryType(resp.QueryType),
		MissingContext:  nonEmpty(resp.MissingContext),
		RelevantFacts:   pickFacts(in.Facts, resp.RelevantFacts),
	}
	if plan.NormalizedQuery == "" {
		plan.NormalizedQuery = strings.TrimSpace(in.Query)
	}
	if resp.NeedsRetrieval != nil {
		plan.NeedsRetrieval = *resp.NeedsRetrieval
	}

	a.logger.Debug("analyzed intent",
		"query_type", plan.QueryType,
		"needs_retrieval", plan.NeedsRetrieval,
		"missing_context", len(plan.MissingContext),
		"relevant_facts", len(plan.RelevantFacts),
	)
	return plan, nil
}

func (r planResponse) validateStrict() error {
	if strings.TrimSpace(r.NormalizedQuery) == "" {
		return errors.New("normalized_query is required")
	}
	if r.NeedsRetrieval == nil {
		return errors.New("needs_retrieval is required")
	}
	if turn.ParseQueryType(r.QueryType) != turn.QueryType(r.QueryType) {
		return fmt.Errorf("query_type %q is not recognized", r.QueryType)
	}
	return nil
}

// pickFacts maps the model's 1-based fact numbers back to records,
// ignoring numbers that do not exist.
func pickFacts(facts []memory.Record, numbers []int) []memory.Record {
	var out []memory.Record
	seen := make(map[int]bool)
	for _, n := range numbers {
		if n < 1 || n > len(facts) || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, facts[n-1])
	}
	return out
}

func nonEmpty(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func buildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(`You are an AI compliance and security expert. Analyze the user's query and plan how to answer it.

Classification rules:
- "What is..." or "Define..." -> definition
- risks or security concerns -> security_risk
- compliance or regulatory requirements -> compliance
- "Compare..." or "difference between" -> comparison
- everything else -> general

`)

	b.WriteString("KNOWN FACTS ABOUT THE USER:\n")
	if len(in.Facts) == 0 {
		b.WriteString("None\n")
	}
	for i, f := range in.Facts {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, f.Category, f.Text)
	}

	b.WriteString("\nRECENT CONVERSATION:\n")
	history := in.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) == 0 {
		b.WriteString("None\n")
	}
	for _, t := range history {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Query, truncate(t.Answer, 300))
	}

	fmt.Fprintf(&b, "\nUSER QUERY: %q\n\n", in.Query)
	b.WriteString(`Return JSON with these fields:
{
  "normalized_query": "the query rewritten as a standalone question, resolving references to the conversation",
  "needs_retrieval": true,
  "query_type": "security_risk | compliance | comparison | definition | general",
  "missing_context": ["specific details the user did not provide"],
  "relevant_facts": [numbers of the known facts that matter for this query]
}`)

	if in.Strict {
		b.WriteString(`

Your previous output could not be parsed. Return ONLY a single valid JSON object, no markdown and no prose.
"normalized_query" must be a non-empty string, "needs_retrieval" must be a boolean and "query_type" must be exactly one of the listed values.`)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
