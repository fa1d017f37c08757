package cli

import (
	"fmt"
	"os"

	"github.com/moviepilot/mpagent/internal/initialization"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mpagent",
		Short: "MoviePilot agent CLI",
		Long: `mpagent runs the MoviePilot conversational agent. It serves the agent and
its tools over HTTP and MCP, and offers a terminal chat for local use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	container, err := initialization.NewContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")

		level := zerolog.InfoLevel
		if debug || container.GetConfig().Verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
	}

	rootCmd.AddCommand(NewServeCommand(container))
	rootCmd.AddCommand(NewChatCommand(container))
	rootCmd.AddCommand(NewSessionsCommand(container))
	rootCmd.AddCommand(NewToolsCommand(container))
	rootCmd.AddCommand(NewStatusCommand(container))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
