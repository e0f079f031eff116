// Package cliui holds the terminal presentation shared by warden commands:
// styles, a progress spinner and answer rendering.
package cliui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")

	HeaderStyle = lipgloss.NewStyle().Bold(true)
	KeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	NameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	WarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	elapsedStyle = KeyStyle
)

// Step shows a spinner beside msg while fn runs, then replaces it with a
// mark and the elapsed time. It returns fn's error.
func Step(w io.Writer, msg string, fn func() error) error {
	frames := spinner.Dot
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(frames.FPS)
		defer ticker.Stop()

		for i := 0; ; i++ {
			fmt.Fprintf(w, "\r  %s %s", spinnerStyle.Render(frames.Frames[i%len(frames.Frames)]), msg)
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	start := time.Now()
	err := fn()
	close(done)
	<-stopped

	fmt.Fprintf(w, "\r  %s %s %s\n", Mark(err), msg, elapsedStyle.Render("("+FormatDuration(time.Since(start))+")"))
	return err
}

func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration renders sub-second durations in ms, longer ones in
// tenths of a second.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

var (
	markdownMu        sync.Mutex
	markdownRenderers = map[int]*glamour.TermRenderer{}
)

// RenderMarkdown renders content with glamour at width columns (80 when
// width is not positive). On failure it returns content unchanged along
// with the error.
func RenderMarkdown(content string, width int) (string, error) {
	if width <= 0 {
		width = defaultWidth
	}

	markdownMu.Lock()
	defer markdownMu.Unlock()

	r, ok := markdownRenderers[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err != nil {
			return content, err
		}
		markdownRenderers[width] = r
	}

	out, err := r.Render(content)
	if err != nil {
		return content, err
	}
	return out, nil
}
