package types

// Message is a single prompt message handed to a language model
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`

	// Parts carries structured content. Only text parts are rendered by the
	// providers and counted by the tokenizer.
	Parts []ContentPart `json:"parts,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set on tool messages and references the owning ToolCall
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// MessageRole defines the role of a message sender
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// ContentPartType identifies a structured content part
type ContentPartType string

const (
	ContentPartText  ContentPartType = "text"
	ContentPartImage ContentPartType = "image_url"
)

type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// ToolCall represents a tool call request from the LLM
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// Metadata holds provider specific data that must be echoed back, such as
	// Gemini thought signatures
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolResult is the outcome of executing a ToolCall
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Text returns the textual content of the message, joining text parts when the
// content is structured
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}

	text := m.Content
	for _, part := range m.Parts {
		if part.Type != ContentPartText || part.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += part.Text
	}

	return text
}

// HasToolCalls reports whether the message is an assistant tool request
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}
