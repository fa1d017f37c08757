// Package notify delivers agent messages back to the channel a user wrote
// from.
package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

const DefaultTitle = "MoviePilot助手"

type Notification struct {
	Channel  string `json:"channel,omitempty"`
	Source   string `json:"source,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	log.Info().
		Str("channel", notification.Channel).
		Str("source", notification.Source).
		Str("user_id", notification.UserID).
		Str("title", notification.Title).
		Str("text", notification.Text).
		Msg("Agent message")

	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	bodyStyle  = lipgloss.NewStyle().PaddingLeft(2)
	statusText = lipgloss.NewStyle().Faint(true)
)

// ConsoleNotifier renders notifications for an interactive terminal
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

func (n *ConsoleNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := fmt.Fprintf(n.out, "%s\n%s\n\n", titleStyle.Render(notification.Title), bodyStyle.Render(RenderText(notification.Text)))
	return err
}

// RenderText dims tool status lines
func RenderText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "⚙️") {
			lines[i] = statusText.Render(line)
		}
	}

	return strings.Join(lines, "\n")
}

// Recorder keeps every notification it is sent
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
	Err           error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(ctx context.Context, notification Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notifications = append(r.notifications, notification)

	return r.Err
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Notification(nil), r.notifications...)
}

// Texts returns the text of every recorded notification
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	texts := make([]string, 0, len(r.notifications))
	for _, n := range r.notifications {
		texts = append(texts, n.Text)
	}

	return texts
}
