package approval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Prompt asks for a decision on a line-oriented terminal. It owns the
// reader so the interactive ask loop and approval prompts never race for
// input; use ReadLine for non-approval input too.
type Prompt struct {
	Reviewer string

	out   io.Writer
	in    io.Reader
	once  sync.Once
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewPrompt creates a Prompt reading from in and writing to out.
func NewPrompt(in io.Reader, out io.Writer, reviewer string) *Prompt {
	return &Prompt{Reviewer: reviewer, in: in, out: out}
}

func (p *Prompt) start() {
	p.once.Do(func() {
		p.lines = make(chan lineResult)
		go func() {
			scanner := bufio.NewScanner(p.in)
			for scanner.Scan() {
				p.lines <- lineResult{text: scanner.Text()}
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			p.lines <- lineResult{err: err}
			close(p.lines)
		}()
	})
}

// ReadLine returns the next input line or ctx's error. io.EOF is returned
// once the input is exhausted.
func (p *Prompt) ReadLine(ctx context.Context) (string, error) {
	p.start()
	select {
	case r, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Await prints the held answer and reads y/n. Any other answer re-prompts.
func (p *Prompt) Await(ctx context.Context, pending Pending) (Decision, error) {
	fmt.Fprintf(p.out, "\nApproval required for turn %s (%s)\n", pending.TurnID, pending.Status)
	fmt.Fprintf(p.out, "Q: %s\n\n%s\n\n", pending.Query, pending.Answer)
	for _, c := range pending.Citations {
		fmt.Fprintf(p.out, "  [%s] %s %s\n", c.ChunkID, c.SourceID, c.Locator)
	}

	for {
		fmt.Fprint(p.out, "Approve this answer? [y/n]: ")
		line, err := p.ReadLine(ctx)
		if err != nil {
			return Decision{}, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Approved(p.reviewer()), nil
		case "n", "no":
			return Rejected(p.reviewer(), "rejected by reviewer"), nil
		}
	}
}

func (p *Prompt) reviewer() string {
	if p.Reviewer == "" {
		return "terminal"
	}
	return p.Reviewer
}
