package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/warden/pkg/agent"
	"github.com/papercomputeco/warden/pkg/approval"
	"github.com/papercomputeco/warden/pkg/memory"
)

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AskRequest is the body of POST /v1/ask.
type AskRequest struct {
	UserID  string   `json:"user_id"`
	Query   string   `json:"query"`
	Sources []string `json:"sources,omitempty"`
}

// DecisionRequest is the body of POST /v1/approvals/:turn.
type DecisionRequest struct {
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason,omitempty"`
}

// MemorySearchResponse lists a user's most relevant facts.
type MemorySearchResponse struct {
	UserID string          `json:"user_id"`
	Query  string          `json:"query"`
	Facts  []memory.Record `json:"facts"`
	Count  int             `json:"count"`
}

// HistoryResponse lists a user's recent turns, oldest first.
type HistoryResponse struct {
	UserID string        `json:"user_id"`
	Turns  []memory.Turn `json:"turns"`
	Count  int           `json:"count"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleAsk runs a turn and returns its result. A turn that ends in a
// fallback is still a 200: the fallback is the answer.
func (s *Server) handleAsk(c *fiber.Ctx) error {
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query is required"})
	}
	if req.UserID == "" {
		req.UserID = s.config.DefaultUserID
	}

	res, err := s.agent.Run(c.UserContext(), agent.Request{
		UserID:  req.UserID,
		Query:   req.Query,
		Sources: req.Sources,
	})
	switch {
	case errors.Is(err, agent.ErrQueryTooShort), errors.Is(err, agent.ErrMissingUser):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	case err != nil:
		s.config.Logger.Error("ask failed", "user_id", req.UserID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to answer"})
	}

	return c.JSON(res)
}

// handleMemorySearch handles GET /v1/memory/:user/search.
// Query parameters:
//   - q (required): the search text
//   - k (optional, default 5): number of facts to return
func (s *Server) handleMemorySearch(c *fiber.Ctx) error {
	userID := c.Params("user")
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter is required"})
	}

	k := defaultSearchK
	if raw := c.Query("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxSearchK {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "k must be an integer between 1 and 50"})
		}
		k = parsed
	}

	facts, err := s.memory.Search(c.UserContext(), userID, query, k)
	if err != nil {
		s.config.Logger.Warn("memory search failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "memory is unavailable"})
	}
	if facts == nil {
		facts = []memory.Record{}
	}

	return c.JSON(MemorySearchResponse{UserID: userID, Query: query, Facts: facts, Count: len(facts)})
}

// handleMemoryHistory handles GET /v1/memory/:user/history.
func (s *Server) handleMemoryHistory(c *fiber.Ctx) error {
	userID := c.Params("user")

	turns, err := s.memory.History(c.UserContext(), userID)
	if err != nil {
		s.config.Logger.Warn("history lookup failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "memory is unavailable"})
	}
	if turns == nil {
		turns = []memory.Turn{}
	}

	return c.JSON(HistoryResponse{UserID: userID, Turns: turns, Count: len(turns)})
}

func (s *Server) handleListApprovals(c *fiber.Ctx) error {
	if s.approvals == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "approval is not enabled"})
	}

	pending := s.approvals.Pending()
	return c.JSON(map[string]any{
		"count":   len(pending),
		"pending": pending,
	})
}

func (s *Server) handleDecideApproval(c *fiber.Ctx) error {
	if s.approvals == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "approval is not enabled"})
	}

	var req DecisionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if req.Reviewer == "" {
		req.Reviewer = "api"
	}
	decision := approval.Rejected(req.Reviewer, req.Reason)
	if req.Approve {
		decision = approval.Approved(req.Reviewer)
	}

	turnID := c.Params("turn")
	err := s.approvals.Decide(turnID, decision)
	switch {
	case errors.Is(err, approval.ErrUnknownTurn):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "no answer is waiting for that turn"})
	case errors.Is(err, approval.ErrInvalidDecision):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to record decision"})
	}

	return c.JSON(decision)
}
