// Package turn holds the data model for one question-answer turn: the plan,
// evidence, candidate answers, validation verdicts and approval decisions
// that flow between the reasoning steps.
package turn

import (
	"slices"
	"time"

	"github.com/papercomputeco/warden/pkg/memory"
)

// State is a state of the turn state machine.
type State string

const (
	StateIntent     State = "INTENT"
	StateRetrieve   State = "RETRIEVE"
	StateSynthesize State = "SYNTHESIZE"
	StateValidate   State = "VALIDATE"
	StateApproval   State = "APPROVAL"
	StateDeliver    State = "DELIVER"
	StateFailed     State = "FAILED"
)

// Terminal reports whether the state ends a turn.
func (s State) Terminal() bool {
	return s == StateDeliver || s == StateFailed
}

// QueryType classifies the information need of a query.
type QueryType string

const (
	QuerySecurityRisk QueryType = "security_risk"
	QueryCompliance   QueryType = "compliance"
	QueryComparison   QueryType = "comparison"
	QueryDefinition   QueryType = "definition"
	QueryGeneral      QueryType = "general"
)

// ParseQueryType normalizes a query type, defaulting to general.
func ParseQueryType(s string) QueryType {
	switch t := QueryType(s); t {
	case QuerySecurityRisk, QueryCompliance, QueryComparison, QueryDefinition:
		return t
	default:
		return QueryGeneral
	}
}

// Plan is the Intent Analyzer's structured output for a turn.
type Plan struct {
	NormalizedQuery string          `json:"normalized_query"`
	NeedsRetrieval  bool            `json:"needs_retrieval"`
	QueryType       QueryType       `json:"query_type"`
	MissingContext  []string        `json:"missing_context,omitempty"`
	RelevantFacts   []memory.Record `json:"relevant_facts,omitempty"`

	// LowEvidence is set by the orchestrator when retrieval found nothing
	// or failed. Synthesis and validation are stricter in this mode.
	LowEvidence bool `json:"low_evidence"`
}

// EvidenceChunk is one retrieved passage. Chunks are immutable.
type EvidenceChunk struct {
	ID       string            `json:"id"`
	SourceID string            `json:"source_id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Locator  string            `json:"locator,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Claim is one atomic assertion of an answer with the chunks cited for it.
type Claim struct {
	Text     string   `json:"text"`
	ChunkIDs []string `json:"chunk_ids"`
}

// CandidateAnswer is a generated answer. Each refinement replaces it.
type CandidateAnswer struct {
	Text   string  `json:"text"`
	Claims []Claim `json:"claims"`
}

// ChunkIDs returns every cited chunk id, deduplicated, in citation order.
func (a CandidateAnswer) ChunkIDs() []string {
	var ids []string
	for _, c := range a.Claims {
		for _, id := range c.ChunkIDs {
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Outcome is the aggregate validation result.
type Outcome string

const (
	Supported          Outcome = "SUPPORTED"
	Unsupported        Outcome = "UNSUPPORTED"
	PartiallySupported Outcome = "PARTIALLY_SUPPORTED"
)

// Entailment is the per-claim validation result.
type Entailment string

const (
	Entailed    Entailment = "entailed"
	NotEntailed Entailment = "not_entailed"
	Ambiguous   Entailment = "ambiguous"
)

// CitationGrade summarizes how well an answer is grounded.
type CitationGrade string

const (
	GradeExcellent CitationGrade = "Excellent"
	GradeGood      CitationGrade = "Good"
	GradeFair      CitationGrade = "Fair"
	GradePoor      CitationGrade = "Poor"
)

// ClaimCheck is the validation result for one claim.
type ClaimCheck struct {
	Claim      Claim      `json:"claim"`
	Entailment Entailment `json:"entailment"`

	// SupportedBy is the first cited chunk that entails the claim.
	SupportedBy string `json:"supported_by,omitempty"`
}

// Directive tells the next synthesis what to correct.
type Directive struct {
	UnsupportedClaims []string `json:"unsupported_claims"`

	// ReformulatedQuery is set when the orchestrator retrieves again
	// before re-synthesizing.
	ReformulatedQuery string `json:"reformulated_query,omitempty"`

	// ReviewerFeedback is the reason a reviewer gave for rejecting the
	// previous answer.
	ReviewerFeedback string `json:"reviewer_feedback,omitempty"`
}

// Verdict is the Validator's output for one candidate answer.
type Verdict struct {
	Outcome           Outcome       `json:"outcome"`
	Checks            []ClaimCheck  `json:"checks"`
	UnsupportedClaims []string      `json:"unsupported_claims,omitempty"`
	Directive         *Directive    `json:"directive,omitempty"`
	Grade             CitationGrade `json:"citation_grade"`
	Notes             []string      `json:"notes,omitempty"`

	// TimedOut marks a verdict produced because validation exceeded its
	// deadline.
	TimedOut bool `json:"timed_out,omitempty"`
}

// ApprovalStatus is the state of a held answer.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// ApprovalDecision is a reviewer's decision on a held answer.
type ApprovalDecision struct {
	Status    ApprovalStatus `json:"status"`
	Reviewer  string         `json:"reviewer"`
	DecidedAt time.Time      `json:"decided_at"`
	Reason    string         `json:"reason,omitempty"`
}

// Transition records one state change of a turn.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Cycle int       `json:"cycle"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// ConversationState is the mutable aggregate of one turn. Only the
// orchestrator running the turn touches it.
type ConversationState struct {
	TurnID   string
	UserID   string
	Query    string
	History  []memory.Turn
	Plan     Plan
	Evidence []EvidenceChunk
	Answer   *CandidateAnswer
	Verdicts []Verdict
	Cycles   int
	State    State
	Approval *ApprovalDecision

	Transitions []Transition
}

// LatestVerdict returns the most recent verdict, if any.
func (s *ConversationState) LatestVerdict() (Verdict, bool) {
	if len(s.Verdicts) == 0 {
		return Verdict{}, false
	}
	return s.Verdicts[len(s.Verdicts)-1], true
}

// EvidenceByID indexes the current evidence set.
func (s *ConversationState) EvidenceByID() map[string]EvidenceChunk {
	out := make(map[string]EvidenceChunk, len(s.Evidence))
	for _, c := range s.Evidence {
		out[c.ID] = c
	}
	return out
}
