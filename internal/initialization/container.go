package initialization

import (
	"context"
	"errors"
	"fmt"

	"github.com/moviepilot/mpagent/internal/agent"
	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/moviepilot/mpagent/internal/prompt"
	"github.com/moviepilot/mpagent/internal/tools"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/tokenizer"
	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/rs/zerolog/log"
)

var ErrAgentDisabled = errors.New("agent is disabled, set AI_AGENT_ENABLE=true")

type Dependencies struct {
	Config      *Config
	Backend     cache.Backend
	Memory      *memory.Manager
	Prompts     *prompt.Manager
	ToolFactory *tools.Factory
	ToolManager *tools.Manager
	Notifier    notify.Notifier

	// Model and Registry are nil unless the agent was requested
	Model    provider.LanguageModel
	Registry *agent.Registry
}

type DependencyConfig struct {
	// Notifier receives agent replies, defaults to the log
	Notifier notify.Notifier

	// WithAgent builds the completion service and the agent registry
	WithAgent bool
}

type Container struct {
	config *Config
}

func NewContainer() (*Container, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	return &Container{config: config}, nil
}

func NewContainerWithConfig(config *Config) *Container {
	return &Container{config: config}
}

func (c *Container) GetConfig() *Config {
	return c.config
}

func (c *Container) BuildDependencies(ctx context.Context, depConfig DependencyConfig) (*Dependencies, error) {
	log.Info().Msg("Building agent dependencies")

	config := c.config

	if depConfig.WithAgent && !config.AgentEnable {
		return nil, ErrAgentDisabled
	}

	notifier := depConfig.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}

	prompts, err := prompt.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	plugins, err := tools.LoadPlugins(config.PluginToolsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin tools: %w", err)
	}

	toolFactory := tools.NewFactory(tools.FactoryDependencies{
		Plugins: plugins,
	})

	toolManager := tools.NewManager(tools.ManagerDependencies{
		Factory: toolFactory,
		Session: tools.Session{Notifier: notifier},
	})

	var model provider.LanguageModel
	if depConfig.WithAgent {
		model, err = NewLanguageModel(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create language model: %w", err)
		}
	}

	backend, err := NewCacheBackend(ctx, config)
	if err != nil {
		return nil, err
	}

	memoryManager := memory.NewManager(memory.ManagerDependencies{
		Backend: backend,
		Config: memory.ManagerConfig{
			MaxMessages:          config.MaxMemoryMessages,
			RetentionDays:        config.MemoryRetentionDays,
			BackendRetentionDays: config.RedisMemoryRetentionDays,
		},
	})

	deps := &Dependencies{
		Config:      config,
		Backend:     backend,
		Memory:      memoryManager,
		Prompts:     prompts,
		ToolFactory: toolFactory,
		ToolManager: toolManager,
		Notifier:    notifier,
		Model:       model,
	}

	if depConfig.WithAgent {
		deps.Registry = agent.NewRegistry(agent.RegistryDependencies{
			Session: agent.SessionDependencies{
				Model:       model,
				Memory:      memoryManager,
				Prompts:     prompts,
				ToolFactory: toolFactory,
				Notifier:    notifier,
				Counter:     tokenizer.NewCounter(config.Model),
				Config: agent.Config{
					MaxContextTokens: config.MaxContextTokens,
					MaxIterations:    config.MaxIterations,
					ToolTimeout:      config.ToolTimeoutDuration(),
					Temperature:      config.Temperature,
				},
			},
		})
	}

	log.Info().
		Bool("agent", deps.Registry != nil).
		Int("plugin_tools", len(plugins)).
		Msg("Agent dependencies built successfully")

	return deps, nil
}

// Initialize starts background work: the memory expiry task
func (d *Dependencies) Initialize(ctx context.Context) error {
	if d.Registry != nil {
		return d.Registry.Initialize(ctx)
	}

	return d.Memory.Initialize(ctx)
}

// Close stops background work and releases the cache backend
func (d *Dependencies) Close(ctx context.Context) error {
	if d.Registry != nil {
		return d.Registry.Close(ctx)
	}

	return d.Memory.Close(ctx)
}
