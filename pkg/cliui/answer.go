package cliui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/fault"
	"github.com/papercomputeco/warden/pkg/turn"
)

const defaultWidth = 80

// AnswerOptions controls RenderAnswer.
type AnswerOptions struct {
	// Markdown renders the answer body through glamour.
	Markdown bool

	// Verbose adds the cycle count, grade and elapsed time.
	Verbose bool

	Width int
}

type answerStyles struct {
	supported lipgloss.Style
	partial   lipgloss.Style
	fallback  lipgloss.Style
	heading   lipgloss.Style
	muted     lipgloss.Style
	warning   lipgloss.Style
}

func newAnswerStyles(r *lipgloss.Renderer) answerStyles {
	badge := r.NewStyle().Bold(true).Padding(0, 1)
	return answerStyles{
		supported: badge.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("82")),
		partial:   badge.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")),
		fallback:  badge.Foreground(lipgloss.Color("15")).Background(lipgloss.Color("196")),
		heading:   r.NewStyle().Bold(true),
		muted:     r.NewStyle().Foreground(lipgloss.Color("245")),
		warning:   r.NewStyle().Foreground(lipgloss.Color("214")),
	}
}

// NewRenderer returns a lipgloss renderer for w with its color profile
// detected from the environment. Non-terminals get plain text.
func NewRenderer(w io.Writer) *lipgloss.Renderer {
	return lipgloss.NewRenderer(w, termenv.WithColorCache(true))
}

// NewPlainRenderer returns a renderer that never emits escape sequences.
func NewPlainRenderer(w io.Writer) *lipgloss.Renderer {
	return lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii))
}

// RenderAnswer writes a turn result: status badge, answer, sources, any
// claims that could not be confirmed and follow-up questions.
func RenderAnswer(w io.Writer, r *lipgloss.Renderer, res *agent.Result, opts AnswerOptions) {
	st := newAnswerStyles(r)
	d := res.Delivery

	fmt.Fprintf(w, "\n%s\n\n", badge(st, d.Status))

	body := d.Answer
	if opts.Markdown {
		if rendered, err := RenderMarkdown(body, opts.Width); err == nil {
			body = strings.TrimRight(rendered, "\n")
		}
	}
	fmt.Fprintln(w, body)

	if len(d.Citations) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.heading.Render("Sources"))
		for i, c := range d.Citations {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, citationLine(st, c))
		}
	}

	if unsupported := lastUnsupported(res); len(unsupported) > 0 && d.Status == turn.DeliveryPartial {
		fmt.Fprintf(w, "\n%s\n", st.warning.Render("Not confirmed by the documents"))
		for _, c := range unsupported {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}

	if len(res.FollowUps) > 0 {
		fmt.Fprintf(w, "\n%s\n", st.heading.Render("You could also ask"))
		for _, q := range res.FollowUps {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}

	if opts.Verbose {
		fmt.Fprintf(w, "\n%s\n", st.muted.Render(summaryLine(res)))
	}
}

func badge(st answerStyles, status turn.DeliveryStatus) string {
	switch status {
	case turn.DeliverySupported:
		return st.supported.Render("SUPPORTED")
	case turn.DeliveryPartial:
		return st.partial.Render("PARTIALLY SUPPORTED")
	default:
		return st.fallback.Render("NO GROUNDED ANSWER")
	}
}

func citationLine(st answerStyles, c turn.Citation) string {
	line := c.SourceID
	if c.Locator != "" {
		line += " " + c.Locator
	}
	return line + " " + st.muted.Render("("+c.ChunkID+")")
}

func lastUnsupported(res *agent.Result) []string {
	if len(res.Verdicts) == 0 {
		return nil
	}
	return res.Verdicts[len(res.Verdicts)-1].UnsupportedClaims
}

func summaryLine(res *agent.Result) string {
	parts := []string{
		fmt.Sprintf("turn %s", res.TurnID),
		fmt.Sprintf("%d cycles", res.Cycles),
	}
	if n := len(res.Verdicts); n > 0 {
		parts = append(parts, "citations "+string(res.Verdicts[n-1].Grade))
	}
	if res.Approval != nil {
		parts = append(parts, fmt.Sprintf("%s by %s", strings.ToLower(string(res.Approval.Status)), res.Approval.Reviewer))
	}
	if res.Fault != fault.Unknown {
		parts = append(parts, "fault "+string(res.Fault))
	}
	parts = append(parts, FormatDuration(res.Duration))
	return strings.Join(parts, " · ")
}
