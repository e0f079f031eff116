// Package api provides the HTTP surface of the warden agent: asking
// questions, inspecting user memory and deciding held answers.
package api

import (
	"log/slog"
	"net/http"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8090")
	ListenAddr string

	// DefaultUserID is used when an ask request names no user.
	DefaultUserID string

	// MCP, when set, is mounted at /mcp.
	MCP http.Handler

	Logger *slog.Logger
}
