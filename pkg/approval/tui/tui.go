// Package tui renders the approval gate as a small bubbletea view for
// interactive terminals.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/turn"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	answerStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	citeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	countdownLow = 10 * time.Second
)

type keyMap struct {
	Approve key.Binding
	Reject  key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Approve, k.Reject, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Approve: key.NewBinding(key.WithKeys("y", "a"), key.WithHelp("y", "approve")),
		Reject:  key.NewBinding(key.WithKeys("n", "r"), key.WithHelp("n", "reject")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "dismiss")),
	}
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	pending  approval.Pending
	reviewer string
	deadline time.Time
	now      time.Time
	decision *approval.Decision
	width    int
	keys     keyMap
	help     help.Model
}

func newModel(p approval.Pending, reviewer string, deadline time.Time) model {
	return model{
		pending:  p,
		reviewer: reviewer,
		deadline: deadline,
		now:      time.Now(),
		width:    80,
		keys:     defaultKeyMap(),
		help:     help.New(),
	}
}

func (m model) Init() tea.Cmd {
	if m.deadline.IsZero() {
		return nil
	}
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tickMsg:
		m.now = time.Time(msg)
		if !m.deadline.IsZero() && !m.now.Before(m.deadline) {
			return m, tea.Quit
		}
		return m, tick()
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Approve):
			d := approval.Approved(m.reviewer)
			m.decision = &d
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reject):
			d := approval.Rejected(m.reviewer, "rejected by reviewer")
			m.decision = &d
			return m, tea.Quit
		case key.Matches(msg, m.keys.Quit):
			d := approval.Rejected(m.reviewer, "dismissed by reviewer")
			m.decision = &d
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Approval required"))
	b.WriteString(" ")
	b.WriteString(statusBadge(m.pending.Status))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("turn " + m.pending.TurnID + " · user " + m.pending.UserID))
	b.WriteString("\n\n")
	b.WriteString("Q: " + m.pending.Query + "\n")

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	b.WriteString(answerStyle.Width(width).Render(m.pending.Answer))
	b.WriteString("\n")

	for _, c := range m.pending.Citations {
		b.WriteString(citeStyle.Render(fmt.Sprintf("  [%s] %s", c.ChunkID, c.SourceID)))
		if c.Locator != "" {
			b.WriteString(mutedStyle.Render(" " + c.Locator))
		}
		b.WriteString("\n")
	}
	for _, u := range m.pending.Unsupported {
		b.WriteString(warnStyle.Render("  ! unsupported: ") + u + "\n")
	}

	if !m.deadline.IsZero() {
		remaining := m.deadline.Sub(m.now).Truncate(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		style := mutedStyle
		if remaining <= countdownLow {
			style = failStyle
		}
		b.WriteString("\n" + style.Render(fmt.Sprintf("auto-reject in %s", remaining)))
	}

	b.WriteString("\n" + m.help.View(m.keys) + "\n")
	return b.String()
}

func statusBadge(s turn.DeliveryStatus) string {
	switch s {
	case turn.DeliverySupported:
		return okStyle.Render("● " + string(s))
	case turn.DeliveryPartial:
		return warnStyle.Render("◐ " + string(s))
	default:
		return failStyle.Render("○ " + string(s))
	}
}

// Gate is an approval.Gate that asks the reviewer in a bubbletea view.
type Gate struct {
	Reviewer string
	Input    io.Reader
	Output   io.Writer
}

// Await runs the view until a key decides or ctx ends. Dismissing the view
// rejects the answer.
func (g *Gate) Await(ctx context.Context, p approval.Pending) (approval.Decision, error) {
	reviewer := g.Reviewer
	if reviewer == "" {
		reviewer = "terminal"
	}

	deadline, _ := ctx.Deadline()
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if g.Input != nil {
		opts = append(opts, tea.WithInput(g.Input))
	}
	if g.Output != nil {
		opts = append(opts, tea.WithOutput(g.Output))
	}

	final, err := tea.NewProgram(newModel(p, reviewer, deadline), opts...).Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return approval.Decision{}, ctxErr
	}
	if err != nil {
		return approval.Decision{}, fmt.Errorf("run approval view: %w", err)
	}

	m, ok := final.(model)
	if !ok || m.decision == nil {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return approval.Decision{}, context.DeadlineExceeded
		}
		return approval.Rejected(reviewer, "dismissed by reviewer"), nil
	}
	return *m.decision, nil
}
