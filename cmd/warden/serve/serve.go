// Package servecmder provides the serve command, which runs the HTTP API
// and the MCP endpoint in front of one agent.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/warden/api"
	"github.com/papercomputeco/warden/api/mcp"
	"github.com/papercomputeco/warden/cmd/warden/setup"
	"github.com/papercomputeco/warden/pkg/bootstrap"
	"github.com/papercomputeco/warden/pkg/config"
	"github.com/papercomputeco/warden/pkg/dotdir"
	"github.com/papercomputeco/warden/pkg/logger"
)

type ServeCommander struct {
	listen       string
	user         string
	maxCycles    int
	allowPartial bool
	customMemory bool
	approval     bool
	autoApprove  bool
	provider     string
	model        string
	llmTarget    string
	vectorStore  string
	vectorTarget string
	sqlitePath   string

	logger *slog.Logger
}

var serveFlags = []string{
	config.FlagListen,
	config.FlagUser,
	config.FlagMaxCycles,
	config.FlagAllowPartial,
	config.FlagCustomMemory,
	config.FlagApproval,
	config.FlagAutoApprove,
	config.FlagLLMProvider,
	config.FlagLLMModel,
	config.FlagLLMTarget,
	config.FlagVectorProvider,
	config.FlagVectorTarget,
	config.FlagSQLite,
}

const serveLongDesc string = `Run the warden API server.

The server answers questions over HTTP (POST /v1/ask), exposes user memory
(GET /v1/memory/:user/search and /history), lets reviewers decide held
answers (GET /v1/approvals, POST /v1/approvals/:turn) and serves the MCP
tools compliance_ask and memory_search at /mcp.

Policy settings (allow_partial, approval.timeout) are reloaded when
config.toml changes; everything else needs a restart.`

const serveShortDesc string = "Run the warden API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := setup.Load(cmd, serveFlags)
			if err != nil {
				return err
			}

			closeLog, err := cmder.setupLogger(cmd, loaded.DataDir)
			if err != nil {
				return err
			}
			defer closeLog()

			return cmder.run(cmd.Context(), loaded)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagUser, &cmder.user)
	config.AddIntFlag(cmd, config.Flags, config.FlagMaxCycles, &cmder.maxCycles)
	config.AddBoolFlag(cmd, config.Flags, config.FlagAllowPartial, &cmder.allowPartial)
	config.AddBoolFlag(cmd, config.Flags, config.FlagCustomMemory, &cmder.customMemory)
	config.AddBoolFlag(cmd, config.Flags, config.FlagApproval, &cmder.approval)
	config.AddBoolFlag(cmd, config.Flags, config.FlagAutoApprove, &cmder.autoApprove)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMProvider, &cmder.provider)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMModel, &cmder.model)
	config.AddStringFlag(cmd, config.Flags, config.FlagLLMTarget, &cmder.llmTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorProvider, &cmder.vectorStore)
	config.AddStringFlag(cmd, config.Flags, config.FlagVectorTarget, &cmder.vectorTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)

	return cmd
}

// setupLogger logs pretty records to stdout and, when a .warden directory
// exists, JSON records to its log file.
func (c *ServeCommander) setupLogger(cmd *cobra.Command, dataDir string) (func(), error) {
	console := setup.Logger(cmd, cmd.OutOrStdout(), true)
	if dataDir == "" {
		c.logger = console
		return func() {}, nil
	}

	f, err := os.OpenFile(filepath.Join(dataDir, dotdir.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	file := logger.New(
		logger.WithDebug(debug),
		logger.WithJSON(true),
		logger.WithSource(debug),
		logger.WithComponent("serve"),
		logger.WithWriter(f),
	)
	c.logger = logger.Multi(console, file)

	return func() { _ = f.Close() }, nil
}

func (c *ServeCommander) run(ctx context.Context, loaded *setup.Loaded) error {
	cfg := loaded.Config

	app, err := bootstrap.New(ctx, bootstrap.Options{
		Config:  cfg,
		DataDir: loaded.DataDir,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			c.logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	mcpServer, err := mcp.NewServer(mcp.Config{
		Agent:         app.Agent,
		Memory:        app.Memory,
		DefaultUserID: cfg.Agent.UserID,
		Logger:        c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	// The broker only receives held answers when it is the active gate.
	var approvals api.Approvals
	if cfg.Approval.Enabled && !cfg.Approval.AutoApprove {
		approvals = app.Broker
	}

	apiServer, err := api.NewServer(api.Config{
		ListenAddr:    cfg.API.Listen,
		DefaultUserID: cfg.Agent.UserID,
		MCP:           mcpServer.Handler(),
		Logger:        c.logger,
	}, app.Agent, app.Memory, approvals)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if loaded.Viper.ConfigFileUsed() != "" {
		config.Watch(loaded.Viper, func(next *config.Config, err error) {
			if err != nil {
				c.logger.Warn("ignoring invalid config change", "error", err)
				return
			}
			app.Agent.SetPolicy(bootstrap.PolicyFrom(next))
			c.logger.Info("reloaded policy",
				"allow_partial", next.Agent.AllowPartial,
				"approval_timeout", next.Approval.Timeout.String(),
			)
		})
	}

	c.logger.Info("starting api server",
		"api_addr", cfg.API.Listen,
		"user_id", cfg.Agent.UserID,
		"memory_backend", cfg.Memory.Backend(),
		"approval", app.Agent.ApprovalEnabled(),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if err := apiServer.Shutdown(); err != nil {
		return fmt.Errorf("stopping API server: %w", err)
	}
	return nil
}
