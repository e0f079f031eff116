package mcp

import (
	"context"

	"github.com/elliotchance/pie/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/warden/pkg/memory"
)

const maxMemoryFacts = 50

var (
	memorySearchToolName    = "memory_search"
	memorySearchDescription = "Search what warden has learned about a user: preferences, context and constraints extracted from their past questions. Returns the most relevant facts, best first."
)

// MemorySearchInput represents the input arguments for the memory_search tool.
type MemorySearchInput struct {
	Query    string `json:"query" jsonschema:"what to look for in the user's facts"`
	UserID   string `json:"user_id,omitempty" jsonschema:"the user whose facts to search"`
	K        int    `json:"k,omitempty" jsonschema:"number of facts to return (default: 5, max: 50)"`
	Category string `json:"category,omitempty" jsonschema:"only return facts of this category: preference, context or constraint"`
}

// MemorySearchOutput represents the structured output of a memory search.
type MemorySearchOutput struct {
	Facts []memory.Record `json:"facts"`
	Count int             `json:"count"`
}

func (s *Server) handleMemorySearch(ctx context.Context, _ *mcp.CallToolRequest, input MemorySearchInput) (*mcp.CallToolResult, MemorySearchOutput, error) {
	if input.Query == "" {
		return toolError("query is required"), MemorySearchOutput{}, nil
	}

	k := input.K
	switch {
	case k <= 0:
		k = 5
	case k > maxMemoryFacts:
		k = maxMemoryFacts
	}

	facts, err := s.config.Memory.Search(ctx, s.userID(input.UserID), input.Query, k)
	if err != nil {
		s.config.Logger.Warn("MCP memory search failed", "error", err)
		return toolError("Memory search failed: %v", err), MemorySearchOutput{}, nil
	}
	if input.Category != "" {
		category := memory.ParseCategory(input.Category)
		facts = pie.Filter(facts, func(r memory.Record) bool { return r.Category == category })
	}
	if facts == nil {
		facts = []memory.Record{}
	}

	output := MemorySearchOutput{Facts: facts, Count: len(facts)}

	result, err := jsonResult(output)
	if err != nil {
		return toolError("Failed to serialize results: %v", err), MemorySearchOutput{}, nil
	}
	return result, output, nil
}
