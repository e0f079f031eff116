// Package mcp exposes the warden agent as MCP (Model Context Protocol) tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/memory"
	"github.com/papercomputeco/warden/pkg/utils"
)

// Asker runs one turn.
type Asker interface {
	Run(ctx context.Context, req agent.Request) (*agent.Result, error)
}

type Config struct {
	// Agent answers compliance_ask.
	Agent Asker

	// Memory serves memory_search.
	Memory memory.Gateway

	// DefaultUserID is used when a tool call names no user.
	DefaultUserID string

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the ask and memory tools.
func NewServer(c Config) (*Server, error) {
	if c.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if c.Memory == nil {
		return nil, errors.New("memory gateway is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if c.DefaultUserID == "" {
		c.DefaultUserID = "default_user"
	}

	s := &Server{config: c}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "warden",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        askToolName,
		Description: askDescription,
	}, s.handleAsk)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        memorySearchToolName,
		Description: memorySearchDescription,
	}, s.handleMemorySearch)

	s.mcpServer = mcpServer

	// Stateless: every request carries everything a tool call needs.
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) userID(id string) string {
	if id == "" {
		return s.config.DefaultUserID
	}
	return id
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// jsonResult also returns the structured output as serialized JSON text for
// clients that do not read structured content.
func jsonResult(output any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, nil
}
