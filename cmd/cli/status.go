package cli

import (
	"fmt"

	"github.com/moviepilot/mpagent/internal/initialization"
	"github.com/moviepilot/mpagent/internal/version"
	"github.com/spf13/cobra"
)

func NewStatusCommand(container *initialization.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current agent configuration",
		Long:  `Display the loaded configuration: completion service, memory backend and HTTP surface. Secrets are not printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(container)
		},
	}

	return cmd
}

func runStatus(container *initialization.Container) error {
	config := container.GetConfig()

	if config.AgentEnable {
		fmt.Println("✅ Agent is enabled")
	} else {
		fmt.Println("❌ Agent is disabled, set AI_AGENT_ENABLE=true to enable it")
	}

	fmt.Printf("   Version: %s\n", version.GetVersion())
	fmt.Printf("   Provider: %s (%s)\n", config.Provider, config.Model)
	if config.BaseURL != "" {
		fmt.Printf("   Base URL: %s\n", config.BaseURL)
	}
	fmt.Printf("   API key: %s\n", configured(config.APIKey))
	fmt.Printf("   Context window: %dk tokens, %d iterations\n", config.MaxContextTokens, config.MaxIterations)
	fmt.Printf("   Memory: %s, %d messages, %d day(s)\n", config.CacheBackendType, config.MaxMemoryMessages, config.MemoryRetentionDays)
	fmt.Printf("   HTTP address: %s\n", config.HTTPAddress)
	fmt.Printf("   API auth: token %s, JWT %s\n", configured(config.APIToken), configured(config.SecretKey))
	if config.PluginToolsDir != "" {
		fmt.Printf("   Plugin tools: %s\n", config.PluginToolsDir)
	}

	return nil
}

func configured(value string) string {
	if value == "" {
		return "not set"
	}

	return "set"
}
