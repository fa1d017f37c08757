package controllers

import (
	"context"
	"strconv"

	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/moviepilot/mpagent/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSessionLimit = 100
	DefaultSource       = "api"
)

type AgentService interface {
	ProcessMessage(ctx context.Context, sessionID, userID, message, channel, source, username string) string
	ClearSession(ctx context.Context, sessionID, userID string)
}

type SessionLister interface {
	ListSessions(ctx context.Context, userID string, limit int) []memory.SessionSummary
}

// AgentController serves conversations with the agent over HTTP
type AgentController struct {
	agents   AgentService
	sessions SessionLister
}

type AgentControllerDependencies struct {
	Agents   AgentService
	Sessions SessionLister
}

func NewAgentController(deps AgentControllerDependencies) *AgentController {
	return &AgentController{
		agents:   deps.Agents,
		sessions: deps.Sessions,
	}
}

type SendMessageRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Channel   string `json:"channel"`
	Source    string `json:"source"`
	Username  string `json:"username"`
}

type SendMessageResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

// SendMessage runs one agent turn and returns the final reply
func (c *AgentController) SendMessage(ctx fiber.Ctx) error {
	var req SendMessageRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "message is required")
	}

	if req.SessionID == "" {
		req.SessionID = xid.New().String()
	}

	if req.UserID == "" {
		req.UserID = requestUser(ctx)
	}

	if req.Source == "" {
		req.Source = DefaultSource
	}

	log.Info().
		Str("session_id", req.SessionID).
		Str("user_id", req.UserID).
		Str("channel", req.Channel).
		Msg("Agent message received")

	reply := c.agents.ProcessMessage(ctx.RequestCtx(), req.SessionID, req.UserID, req.Message, req.Channel, req.Source, req.Username)

	return ctx.JSON(SendMessageResponse{
		SessionID: req.SessionID,
		Reply:     reply,
	})
}

// ListSessions returns stored conversations, most recently updated first
func (c *AgentController) ListSessions(ctx fiber.Ctx) error {
	limit := DefaultSessionLimit

	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	sessions := c.sessions.ListSessions(ctx.RequestCtx(), ctx.Query("user_id"), limit)
	if sessions == nil {
		sessions = []memory.SessionSummary{}
	}

	return ctx.JSON(sessions)
}

// ClearSession drops the live agent and the stored memory of a session
func (c *AgentController) ClearSession(ctx fiber.Ctx) error {
	sessionID := ctx.Params("sessionID")

	userID := ctx.Query("user_id")
	if userID == "" {
		userID = requestUser(ctx)
	}

	c.agents.ClearSession(ctx.RequestCtx(), sessionID, userID)

	return ctx.SendStatus(fiber.StatusNoContent)
}

func requestUser(ctx fiber.Ctx) string {
	principal, ok := middlewares.GetPrincipal(ctx)
	if !ok {
		return ""
	}

	return principal.Subject
}
