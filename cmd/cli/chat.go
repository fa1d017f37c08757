package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/moviepilot/mpagent/internal/initialization"
	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	chatSource  = "cli"
	exitCommand = "/exit"
	clearCmd    = "/clear"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	hintStyle   = lipgloss.NewStyle().Faint(true)
)

type chatOptions struct {
	sessionID string
	userID    string
	channel   string
}

func NewChatCommand(container *initialization.Container) *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent in the terminal",
		Long:  `Start an interactive conversation with the agent. Replies and tool status messages are printed as they are sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(container, opts)
		},
	}

	cmd.Flags().StringVar(&opts.sessionID, "session", "", "Resume an existing session")
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "User the conversation belongs to")
	cmd.Flags().StringVar(&opts.channel, "channel", "", "Message channel used to pick formatting rules")

	return cmd
}

func runChat(container *initialization.Container, opts chatOptions) error {
	ctx := context.Background()

	deps, err := container.BuildDependencies(ctx, initialization.DependencyConfig{
		Notifier:  notify.NewConsoleNotifier(os.Stdout),
		WithAgent: true,
	})
	if err != nil {
		return err
	}

	if err := deps.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to release agent dependencies")
		}
	}()

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = xid.New().String()
	}

	fmt.Println(hintStyle.Render(fmt.Sprintf("Session %s. Type %s to leave, %s to forget the conversation.", sessionID, exitCommand, clearCmd)))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(promptStyle.Render("> "))

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case exitCommand:
			return nil
		case clearCmd:
			deps.Registry.ClearSession(ctx, sessionID, opts.userID)
			fmt.Println(hintStyle.Render("Conversation cleared"))
			continue
		}

		// Ctrl+C cancels the running turn only
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		deps.Registry.ProcessMessage(turnCtx, sessionID, opts.userID, line, opts.channel, chatSource, opts.userID)
		stop()
	}

	return scanner.Err()
}
