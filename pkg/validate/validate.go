// Package validate checks a candidate answer's claims against the evidence
// it cites and aggregates the results into a verdict.
package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elliotchance/pie/v2"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/warden/pkg/turn"
)

const (
	StrategyLLM     = "llm"
	StrategyLexical = "lexical"

	defaultConcurrency = 4
)

// Entailer decides whether cited chunks entail a claim. On entailment it
// also returns the id of the supporting chunk.
type Entailer interface {
	Entail(ctx context.Context, claim string, cited []turn.EvidenceChunk, lowEvidence bool) (turn.Entailment, string, error)
}

// Config holds Validator settings.
type Config struct {
	// Primary checks claims first. Nil means lexical only.
	Primary Entailer

	// Fallback checks a claim when Primary errors.
	Fallback Entailer

	// Concurrency bounds parallel claim checks.
	Concurrency int

	Logger *slog.Logger
}

// Validator produces verdicts.
type Validator struct {
	primary     Entailer
	fallback    Entailer
	concurrency int
	logger      *slog.Logger
}

// New creates a Validator.
func New(cfg Config) *Validator {
	v := &Validator{
		primary:     cfg.Primary,
		fallback:    cfg.Fallback,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
	if v.fallback == nil {
		v.fallback = Lexical{}
	}
	if v.primary == nil {
		v.primary = v.fallback
	}
	if v.concurrency <= 0 {
		v.concurrency = defaultConcurrency
	}
	if v.logger == nil {
		v.logger = slog.New(slog.DiscardHandler)
	}
	return v
}

// Validate checks every claim of answer against the chunks it cites. A
// claim is entailed only by a chunk it cites that is in evidence; ambiguous
// results count as not entailed. The only error is context cancellation.
func (v *Validator) Validate(ctx context.Context, answer turn.CandidateAnswer, evidence []turn.EvidenceChunk, lowEvidence bool) (turn.Verdict, error) {
	byID := make(map[string]turn.EvidenceChunk, len(evidence))
	for _, c := range evidence {
		byID[c.ID] = c
	}

	checks := make([]turn.ClaimCheck, len(answer.Claims))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)

	for i, claim := range answer.Claims {
		var cited []turn.EvidenceChunk
		for _, id := range claim.ChunkIDs {
			if c, ok := byID[id]; ok {
				cited = append(cited, c)
			}
		}

		if len(cited) == 0 {
			checks[i] = turn.ClaimCheck{Claim: claim, Entailment: turn.NotEntailed}
			continue
		}

		g.Go(func() error {
			entailment, supportedBy, err := v.primary.Entail(gctx, claim.Text, cited, lowEvidence)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				v.logger.Warn("entailment check failed, using fallback", "error", err)
				entailment, supportedBy, err = v.fallback.Entail(gctx, claim.Text, cited, lowEvidence)
				if err != nil {
					return err
				}
			}
			checks[i] = turn.ClaimCheck{Claim: claim, Entailment: entailment, SupportedBy: supportedBy}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return turn.Verdict{}, err
	}

	verdict := Aggregate(checks)
	if lowEvidence {
		verdict.Notes = append(verdict.Notes, "validated in low-evidence mode")
	}

	v.logger.Debug("validated answer",
		"outcome", verdict.Outcome,
		"claims", len(checks),
		"unsupported", len(verdict.UnsupportedClaims),
		"grade", verdict.Grade,
	)
	return verdict, nil
}

// Aggregate folds per-claim checks into a verdict: SUPPORTED when every
// claim is entailed, UNSUPPORTED when none is (or there are no claims),
// PARTIALLY_SUPPORTED otherwise.
func Aggregate(checks []turn.ClaimCheck) turn.Verdict {
	supported := pie.Filter(checks, func(c turn.ClaimCheck) bool { return c.Entailment == turn.Entailed })
	unsupported := pie.Map(
		pie.Filter(checks, func(c turn.ClaimCheck) bool { return c.Entailment != turn.Entailed }),
		func(c turn.ClaimCheck) string { return c.Claim.Text },
	)
	cited := pie.Filter(checks, func(c turn.ClaimCheck) bool { return len(c.Claim.ChunkIDs) > 0 })

	v := turn.Verdict{Checks: checks}
	switch {
	case len(checks) > 0 && len(supported) == len(checks):
		v.Outcome = turn.Supported
	case len(supported) == 0:
		v.Outcome = turn.Unsupported
	default:
		v.Outcome = turn.PartiallySupported
	}

	if len(unsupported) > 0 {
		v.UnsupportedClaims = unsupported
		v.Directive = &turn.Directive{UnsupportedClaims: unsupported}
	}

	v.Grade = Grade(ratio(len(supported), len(checks)), ratio(len(cited), len(checks)))
	v.Notes = append(v.Notes, fmt.Sprintf("%d of %d claims supported by cited evidence", len(supported), len(checks)))
	if uncited := len(checks) - len(cited); uncited > 0 {
		v.Notes = append(v.Notes, fmt.Sprintf("%d claims cite no evidence", uncited))
	}
	return v
}

// TimedOut is the verdict used when validation exceeds its deadline: every
// claim is treated as unsupported.
func TimedOut(answer turn.CandidateAnswer) turn.Verdict {
	checks := make([]turn.ClaimCheck, len(answer.Claims))
	for i, c := range answer.Claims {
		checks[i] = turn.ClaimCheck{Claim: c, Entailment: turn.NotEntailed}
	}
	v := Aggregate(checks)
	v.Outcome = turn.Unsupported
	v.TimedOut = true
	v.Notes = append(v.Notes, "validation timed out")
	return v
}

// Grade maps the supported-claim ratio to a citation grade, one level lower
// when fewer than half the claims cite anything.
func Grade(supportedRatio, citationCoverage float64) turn.CitationGrade {
	grades := []turn.CitationGrade{turn.GradePoor, turn.GradeFair, turn.GradeGood, turn.GradeExcellent}

	level := 0
	switch {
	case supportedRatio >= 0.9:
		level = 3
	case supportedRatio >= 0.7:
		level = 2
	case supportedRatio > 0:
		level = 1
	}
	if citationCoverage < 0.5 && level > 0 {
		level--
	}
	return grades[level]
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
