package server

import (
	"context"
	"time"

	"github.com/moviepilot/mpagent/internal/controllers"
	"github.com/moviepilot/mpagent/internal/middlewares"
	"github.com/moviepilot/mpagent/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/rs/zerolog/log"
)

const ServiceName = "mpagent"

type Verifier interface {
	middlewares.TokenVerifier
	Configured() bool
}

type HTTPServerDependencies struct {
	// AgentController is nil when the agent is disabled
	AgentController *controllers.AgentController
	MCPController   *controllers.MCPController
	Verifier        Verifier
}

func NewHTTPServer(ctx context.Context, deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: ServiceName,
	})

	router.Use(cors.New())
	router.Use(logger.New())

	// Health check endpoint (no authentication required)
	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   ServiceName,
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := router.Group("/api/v1")

	if !deps.Verifier.Configured() {
		log.Warn().Msg("No API token or secret key configured, every API request will be rejected")
	}

	api.Use(middlewares.TokenMiddleware(deps.Verifier))

	if deps.AgentController != nil {
		agent := api.Group("/agent")

		agent.Post("/message", deps.AgentController.SendMessage)
		agent.Get("/sessions", deps.AgentController.ListSessions)
		agent.Delete("/sessions/:sessionID", deps.AgentController.ClearSession)
	}

	mcp := api.Group("/mcp")

	mcp.Post("/", deps.MCPController.HandleRPC)
	mcp.Delete("/", deps.MCPController.DeleteSession)
	mcp.Get("/tools", deps.MCPController.ListTools)
	mcp.Post("/tools/call", deps.MCPController.CallTool)
	mcp.Get("/tools/:name", deps.MCPController.GetTool)
	mcp.Get("/tools/:name/schema", deps.MCPController.GetToolSchema)

	return router
}
