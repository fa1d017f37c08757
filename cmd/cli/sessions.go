package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/moviepilot/mpagent/internal/initialization"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewSessionsCommand(container *initialization.Container) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
		Long:  `Inspect and clear the conversation memory kept by the agent.`,
	}

	cmd.AddCommand(NewSessionsListCommand(container))
	cmd.AddCommand(NewSessionsClearCommand(container))

	return cmd
}

func NewSessionsListCommand(container *initialization.Container) *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations",
		Long:  `List stored conversations, most recently updated first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(container, userID, limit)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only list sessions of this user")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of sessions")

	return cmd
}

func runSessionsList(container *initialization.Container, userID string, limit int) error {
	ctx := context.Background()

	deps, err := container.BuildDependencies(ctx, initialization.DependencyConfig{})
	if err != nil {
		return err
	}
	defer closeDependencies(deps)

	sessions := deps.Memory.ListSessions(ctx, userID, limit)

	fmt.Println("📋 Sessions:")
	if len(sessions) == 0 {
		fmt.Println("   No sessions stored")
		return nil
	}

	for i, session := range sessions {
		fmt.Printf("   %d. %s (%s) %d message(s), updated %s\n",
			i+1, session.Title, session.SessionID, session.MessageCount,
			session.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("\nTotal: %d session(s)\n", len(sessions))

	return nil
}

func NewSessionsClearCommand(container *initialization.Container) *cobra.Command {
	var (
		userID string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Forget a stored conversation",
		Long:  `Remove a conversation from the memory cache and the backend.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsClear(container, args[0], userID, yes)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "User the session belongs to")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func runSessionsClear(container *initialization.Container, sessionID, userID string, yes bool) error {
	if !yes {
		confirmed := false

		err := huh.NewConfirm().
			Title(fmt.Sprintf("Clear session %s of user %s?", sessionID, userID)).
			Affirmative("Clear").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return fmt.Errorf("failed to confirm: %w", err)
		}

		if !confirmed {
			return nil
		}
	}

	ctx := context.Background()

	deps, err := container.BuildDependencies(ctx, initialization.DependencyConfig{})
	if err != nil {
		return err
	}
	defer closeDependencies(deps)

	deps.Memory.ClearMemory(ctx, sessionID, userID)

	fmt.Println("✅ Session cleared")
	return nil
}

func closeDependencies(deps *initialization.Dependencies) {
	if err := deps.Close(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to release agent dependencies")
	}
}
