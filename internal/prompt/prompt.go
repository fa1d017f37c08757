// Package prompt loads the agent system prompt and adapts it to the
// formatting capabilities of the reply channel.
package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	AgentPromptFile = "agent_prompt.txt"
	ChannelsFile    = "channels.yaml"

	markdownPlaceholder = "{markdown_rules}"
)

//go:embed prompts/*
var embedded embed.FS

var plainTextInstructions = []string{
	"- Formatting: Use **Plain Text ONLY**. The channel does NOT support Markdown.",
	"- No Markdown Symbols: NEVER use `**`, `*`, `__`, or `[` blocks. Use natural text to emphasize (e.g., using ALL CAPS or separators).",
	"- Lists: Use plain text symbols like `>` or `*` at the start of lines, followed by manual line breaks.",
	"- Links: Paste URLs directly as text.",
}

type Channel struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	RichText bool     `yaml:"rich_text"`
}

type channelTable struct {
	Channels []Channel `yaml:"channels"`
}

type Manager struct {
	files fs.FS

	mu       sync.Mutex
	cache    map[string]string
	channels []Channel
}

// NewManager serves the prompts compiled into the binary
func NewManager() (*Manager, error) {
	files, err := fs.Sub(embedded, "prompts")
	if err != nil {
		return nil, err
	}

	return NewManagerWithFS(files)
}

func NewManagerWithFS(files fs.FS) (*Manager, error) {
	manager := &Manager{
		files: files,
		cache: make(map[string]string),
	}

	data, err := fs.ReadFile(files, ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read channel table: %w", err)
	}

	var table channelTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse channel table: %w", err)
	}

	manager.channels = table.Channels

	return manager, nil
}

// Load returns the trimmed content of a prompt file, cached after first read
func (m *Manager) Load(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if content, ok := m.cache[name]; ok {
		return content, nil
	}

	data, err := fs.ReadFile(m.files, name)
	if err != nil {
		log.Error().Err(err).Str("prompt", name).Msg("Failed to load prompt")
		return "", fmt.Errorf("failed to load prompt %s: %w", name, err)
	}

	content := strings.TrimSpace(string(data))
	m.cache[name] = content

	log.Info().Str("prompt", name).Int("length", len(content)).Msg("Prompt loaded")

	return content, nil
}

// Channel looks a channel up by name or alias, case insensitive
func (m *Manager) Channel(name string) (Channel, bool) {
	if name == "" {
		return Channel{}, false
	}

	for _, channel := range m.channels {
		if strings.EqualFold(channel.Name, name) {
			return channel, true
		}
		for _, alias := range channel.Aliases {
			if strings.EqualFold(alias, name) {
				return channel, true
			}
		}
	}

	return Channel{}, false
}

// AgentPrompt renders the system prompt for replies sent through channel.
// Plain text channels get formatting instructions; rich text and unknown
// channels get none.
func (m *Manager) AgentPrompt(channel string) (string, error) {
	base, err := m.Load(AgentPromptFile)
	if err != nil {
		return "", err
	}

	instructions := ""
	if c, ok := m.Channel(channel); ok && !c.RichText {
		instructions = strings.Join(plainTextInstructions, "\n")
	}

	return strings.ReplaceAll(base, markdownPlaceholder, instructions), nil
}

func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = make(map[string]string)
	log.Info().Msg("Prompt cache cleared")
}
