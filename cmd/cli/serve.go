package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/moviepilot/mpagent/internal/auth"
	"github.com/moviepilot/mpagent/internal/controllers"
	"github.com/moviepilot/mpagent/internal/initialization"
	"github.com/moviepilot/mpagent/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(container *initialization.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent and its tools over HTTP",
		Long:  `Start the HTTP server. The agent endpoints are available when AI_AGENT_ENABLE is set; the MCP tool endpoints are always served.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(container)
		},
	}

	return cmd
}

func runServe(container *initialization.Container) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	config := container.GetConfig()

	log.Info().
		Bool("agent", config.AgentEnable).
		Str("provider", config.Provider).
		Str("model", config.Model).
		Str("backend", config.CacheBackendType).
		Msg("Starting agent service")

	deps, err := container.BuildDependencies(ctx, initialization.DependencyConfig{
		WithAgent: config.AgentEnable,
	})
	if err != nil {
		return err
	}

	if err := deps.Initialize(ctx); err != nil {
		return err
	}

	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()

		if err := deps.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Failed to release agent dependencies")
		}
	}()

	var agentController *controllers.AgentController
	if deps.Registry != nil {
		agentController = controllers.NewAgentController(controllers.AgentControllerDependencies{
			Agents:   deps.Registry,
			Sessions: deps.Memory,
		})
	}

	app := server.NewHTTPServer(ctx, server.HTTPServerDependencies{
		AgentController: agentController,
		MCPController: controllers.NewMCPController(controllers.MCPControllerDependencies{
			Tools: deps.ToolManager,
		}),
		Verifier: auth.NewTokenVerifier(auth.VerifierOptions{
			APIToken:  config.APIToken,
			SecretKey: config.SecretKey,
		}),
	})

	log.Info().Str("address", config.HTTPAddress).Msg("HTTP server listening")

	if err := app.Listen(config.HTTPAddress, fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	}); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}

	log.Info().Msg("Agent service stopped")
	return nil
}
