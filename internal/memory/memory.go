package memory

import (
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAgent      Role = "agent"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
	RoleSystem     Role = "system"
)

// Metadata keys carried by tool_call and tool_result messages
const (
	MetadataCallID     = "call_id"
	MetadataToolName   = "tool_name"
	MetadataParameters = "parameters"
)

const DefaultTitle = "新会话"

type Message struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

func (m Message) MetadataString(key string) string {
	if value, ok := m.Metadata[key].(string); ok {
		return value
	}
	return ""
}

// Parameters returns the tool call arguments of a tool_call message
func (m Message) Parameters() map[string]any {
	if params, ok := m.Metadata[MetadataParameters].(map[string]any); ok {
		return params
	}
	return map[string]any{}
}

type ConversationMemory struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Title     string         `json:"title,omitempty"`
	Messages  []Message      `json:"messages"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func NewConversationMemory(sessionID, userID string, now time.Time) *ConversationMemory {
	return &ConversationMemory{
		SessionID: sessionID,
		UserID:    userID,
		Messages:  []Message{},
		Context:   map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *ConversationMemory) clone() *ConversationMemory {
	cloned := *c
	cloned.Messages = append([]Message(nil), c.Messages...)

	cloned.Context = make(map[string]any, len(c.Context))
	for k, v := range c.Context {
		cloned.Context[k] = v
	}

	return &cloned
}

type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (c *ConversationMemory) summary() SessionSummary {
	title := c.Title
	if title == "" {
		title = DefaultTitle
	}

	return SessionSummary{
		SessionID:    c.SessionID,
		Title:        title,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// capMessages keeps every system message plus the newest non-system messages
// so that the total does not exceed max. Relative order is preserved within
// each group, system messages first.
func capMessages(messages []Message, max int) []Message {
	if max <= 0 || len(messages) <= max {
		return messages
	}

	var system, rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	keep := max - len(system)
	if keep < 0 {
		keep = 0
	}
	if keep < len(rest) {
		rest = rest[len(rest)-keep:]
	}

	capped := make([]Message, 0, len(system)+len(rest))
	capped = append(capped, system...)
	capped = append(capped, rest...)

	return capped
}
