package api

import (
	"context"
	"errors"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/memory"
)

// Asker runs one turn.
type Asker interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Approvals lists and decides answers held for review.
type Approvals interface {
	Pending() []approval.Pending
	Decide(turnID string, d approval.Decision) error
}

// Server is the API server for the warden agent.
type Server struct {
	config    Config
	agent     Asker
	memory    memory.Gateway
	approvals Approvals
	app       *fiber.App
}

// NewServer creates a new API server. approvals may be nil when answers
// are never held.
func NewServer(config Config, asker Asker, gw memory.Gateway, approvals Approvals) (*Server, error) {
	if asker == nil {
		return nil, errors.New("agent is required")
	}
	if gw == nil {
		return nil, errors.New("memory gateway is required")
	}
	if config.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if config.DefaultUserID == "" {
		config.DefaultUserID = "default_user"
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:    config,
		agent:     asker,
		memory:    gw,
		approvals: approvals,
		app:       app,
	}

	app.Get("/ping", s.handlePing)
	app.Post("/v1/ask", s.handleAsk)
	app.Get("/v1/memory/:user/search", s.handleMemorySearch)
	app.Get("/v1/memory/:user/history", s.handleMemoryHistory)
	app.Get("/v1/approvals", s.handleListApprovals)
	app.Post("/v1/approvals/:turn", s.handleDecideApproval)

	if config.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCP))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.config.Logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
