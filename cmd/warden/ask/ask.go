// Package askcmder provides the ask command: one-shot or interactive
// questions answered by the local agent.
package askcmder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/warden/cmd/warden/setup"
	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/approval/tui"
	"github.com/papercomputeco/warden/pkg/bootstrap"
	"github.com/papercomputeco/warden/pkg/cliui"
	"github.com/papercomputeco/warden/pkg/config"
)

var userPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")

type askCommander struct {
	user         string
	maxCycles    int
	allowPartial bool
	customMemory bool
	approval     bool
	autoApprove  bool
	provider     string
	model        string
	sqlitePath   string

	debug       bool
	interactive bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
}

// askFlags are the config.Flags registry keys ask registers.
var askFlags = []string{
	config.FlagUser,
	config.FlagMaxCycles,
	config.FlagAllowPartial,
	config.FlagCustomMemory,
	config.FlagApproval,
	config.FlagAutoApprove,
	config.FlagLLMProvider,
	config.FlagLLMModel,
	config.FlagSQLite,
}

const askLongDesc string = `Ask compliance and AI security questions.

With a query argument, warden answers once and exits. Without one, it starts
an interactive session; type exit, quit or q to leave.

Every answer is checked against the documents it cites. Answers that cannot
be grounded are refined, and withheld if they still cannot be supported.
When approval is enabled, validated answers are shown for review before
they are delivered.

Examples:
  warden ask "What does the EU AI Act require for high-risk systems?"
  warden ask --user alice --approval
  warden ask --max-cycles 5 --allow-partial`

const askShortDesc string = "Ask grounded compliance questions"

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: askShortDesc,
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.errOut = cmd.ErrOrStderr()
			cmder.interactive = isTerminal(cmder.in)
			cmder.logger = setup.Logger(cmd, cmder.errOut, cmder.interactive)

			loaded, err := setup.Load(cmd, askFlags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return cmder.run(ctx, loaded, strings.TrimSpace(strings.Join(args, " ")))
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagUser, &cmder.user)
	config.AddIntFlag(cmd, config.Flags, config.FlagMaxCycles, &cmder.maxCycles)
	config.AddBoolFlag(cmd, config.Flags, config.FlagAllowPartial, &cmder.allowPartial)
	config.AddBoolFlag(cmd, config.Flags, config.FlagCustomMemory, &cmder.customMemory)
	config.AddBoolFlag(cmd, config.Flags, config.FlagApproval, &cmder.approval)
	config.AddBoolFlag(cmd, config.Flags, config.FlagAutoApprove, &cmder.autoApprove)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)

	return cmd
}

func (c *askCommander) run(ctx context.Context, loaded *setup.Loaded, query string) error {
	cfg := loaded.Config

	var (
		gate     approval.Gate
		readLine func(context.Context) (string, error)
	)
	if c.interactive {
		// bubbletea needs the terminal to itself while it runs, so questions
		// are read synchronously between turns.
		gate = &tui.Gate{Reviewer: cfg.Approval.Reviewer, Input: c.in, Output: c.errOut}
		reader := bufio.NewReader(c.in)
		readLine = func(context.Context) (string, error) {
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return "", err
			}
			return strings.TrimRight(line, "\r\n"), nil
		}
	} else {
		prompt := approval.NewPrompt(c.in, c.out, cfg.Approval.Reviewer)
		gate = prompt
		readLine = prompt.ReadLine
	}

	app, err := bootstrap.New(ctx, bootstrap.Options{
		Config:  cfg,
		DataDir: loaded.DataDir,
		Gate:    gate,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	if query != "" {
		return c.ask(ctx, app, cfg.Agent.UserID, query)
	}

	fmt.Fprintf(c.out, "\n  %s %s\n", cliui.KeyStyle.Render("User:"), cliui.NameStyle.Render(cfg.Agent.UserID))
	fmt.Fprintf(c.out, "  %s %s\n\n", cliui.KeyStyle.Render("Memory:"), cliui.ValueStyle.Render(cfg.Memory.Backend()))
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Ask a question and press Enter. Type exit, quit or q to leave."))

	for {
		fmt.Fprint(c.out, userPrompt)
		line, err := readLine(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			fmt.Fprintln(c.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if IsExit(input) {
			return nil
		}

		if err := c.ask(ctx, app, cfg.Agent.UserID, input); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *askCommander) ask(ctx context.Context, app *bootstrap.App, userID, query string) error {
	var res *agent.Result
	runTurn := func() error {
		var err error
		res, err = app.Agent.Run(ctx, agent.Request{UserID: userID, Query: query})
		return err
	}

	var err error
	if c.interactive && !app.Agent.ApprovalEnabled() {
		err = cliui.Step(c.errOut, "Researching", runTurn)
	} else {
		err = runTurn()
	}

	if errors.Is(err, agent.ErrQueryTooShort) {
		fmt.Fprintf(c.out, "  %s %v\n\n", cliui.WarnStyle.Render("!"), err)
		return nil
	}
	if err != nil {
		return err
	}

	renderer := cliui.NewPlainRenderer(c.out)
	if c.interactive {
		renderer = cliui.NewRenderer(c.out)
	}
	cliui.RenderAnswer(c.out, renderer, res, cliui.AnswerOptions{
		Markdown: c.interactive,
		Verbose:  c.debug,
	})
	fmt.Fprintln(c.out)
	return nil
}

// IsExit reports whether input ends an interactive session.
func IsExit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", "q":
		return true
	default:
		return false
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
