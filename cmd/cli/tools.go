package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moviepilot/mpagent/internal/initialization"
	"github.com/spf13/cobra"
)

func NewToolsCommand(container *initialization.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and run agent tools",
		Long:  `List the tools the agent can call, or run one directly.`,
	}

	cmd.AddCommand(NewToolsListCommand(container))
	cmd.AddCommand(NewToolsCallCommand(container))

	return cmd
}

func NewToolsListCommand(container *initialization.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(container)
		},
	}
}

func runToolsList(container *initialization.Container) error {
	deps, err := container.BuildDependencies(context.Background(), initialization.DependencyConfig{})
	if err != nil {
		return err
	}
	defer closeDependencies(deps)

	definitions := deps.ToolManager.ListTools()

	fmt.Println("🧰 Tools:")
	for i, definition := range definitions {
		fmt.Printf("   %d. %s: %s\n", i+1, definition.Name, definition.Description)
	}
	fmt.Printf("\nTotal: %d tool(s)\n", len(definitions))

	return nil
}

func NewToolsCallCommand(container *initialization.Container) *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Run a tool directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsCall(container, args[0], rawArgs)
		},
	}

	cmd.Flags().StringVar(&rawArgs, "args", "{}", "Tool arguments as a JSON object")

	return cmd
}

func runToolsCall(container *initialization.Container, name, rawArgs string) error {
	var args map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	ctx := context.Background()

	deps, err := container.BuildDependencies(ctx, initialization.DependencyConfig{})
	if err != nil {
		return err
	}
	defer closeDependencies(deps)

	result, err := deps.ToolManager.Call(ctx, name, args)
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}
