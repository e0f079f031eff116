package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/turn"
)

var (
	askToolName    = "compliance_ask"
	askDescription = "Ask a compliance or AI security question. The answer is grounded in the indexed regulatory documents and every claim is checked against the passages it cites. Returns the answer, its support status, and the citations."
)

// AskInput represents the input arguments for the compliance_ask tool.
type AskInput struct {
	Query   string   `json:"query" jsonschema:"the compliance or security question"`
	UserID  string   `json:"user_id,omitempty" jsonschema:"the user asking, used for personalization and history"`
	Sources []string `json:"sources,omitempty" jsonschema:"restrict evidence to these source documents"`
}

// AskOutput represents the structured output of compliance_ask.
type AskOutput struct {
	TurnID    string              `json:"turn_id"`
	Answer    string              `json:"answer"`
	Status    turn.DeliveryStatus `json:"status"`
	Citations []turn.Citation     `json:"citations"`
	FollowUps []string            `json:"follow_ups,omitempty"`
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	if input.Query == "" {
		return toolError("query is required"), AskOutput{}, nil
	}

	userID := s.userID(input.UserID)
	s.config.Logger.Debug("MCP ask request", "user_id", userID)

	res, err := s.config.Agent.Run(ctx, agent.Request{UserID: userID, Query: input.Query, Sources: input.Sources})
	if errors.Is(err, agent.ErrQueryTooShort) {
		return toolError("%v", err), AskOutput{}, nil
	}
	if err != nil {
		s.config.Logger.Error("MCP ask failed", "user_id", userID, "error", err)
		return toolError("the question could not be answered"), AskOutput{}, nil
	}

	output := AskOutput{
		TurnID:    res.TurnID,
		Answer:    res.Delivery.Answer,
		Status:    res.Delivery.Status,
		Citations: res.Delivery.Citations,
		FollowUps: res.FollowUps,
	}

	result, err := jsonResult(output)
	if err != nil {
		return toolError("Failed to serialize results: %v", err), AskOutput{}, nil
	}
	return result, output, nil
}
