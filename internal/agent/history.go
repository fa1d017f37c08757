package agent

import (
	"strings"

	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
)

const unknownCallID = "unknown"

// History is the prompt view of a session's stored messages
type History struct {
	// System holds system-role records such as compaction summaries. They are
	// appended to the system prompt rather than placed in the message list.
	System   []string
	Messages []types.Message
}

// BuildHistory turns stored records into prompt messages. A tool_call record
// becomes an agent message carrying one tool call and a tool_result record
// becomes a tool message; pairing is by call_id and left to the trimmer to
// verify.
func BuildHistory(records []memory.Message) History {
	history := History{
		Messages: make([]types.Message, 0, len(records)),
	}

	for _, record := range records {
		switch record.Role {
		case memory.RoleUser:
			history.Messages = append(history.Messages, types.NewUserMessage(record.Content))
		case memory.RoleAgent:
			history.Messages = append(history.Messages, types.NewAssistantMessage(record.Content))
		case memory.RoleToolCall:
			history.Messages = append(history.Messages, types.NewAssistantMessage(record.Content, types.ToolCall{
				ID:        record.MetadataString(memory.MetadataCallID),
				Name:      record.MetadataString(memory.MetadataToolName),
				Arguments: record.Parameters(),
			}))
		case memory.RoleToolResult:
			callID := record.MetadataString(memory.MetadataCallID)
			if callID == "" {
				callID = unknownCallID
			}
			history.Messages = append(history.Messages, types.NewToolMessage(callID, record.Content))
		case memory.RoleSystem:
			history.System = append(history.System, record.Content)
		}
	}

	return history
}

// SystemPrompt appends the system-role history to base
func (h History) SystemPrompt(base string) string {
	if len(h.System) == 0 {
		return base
	}

	parts := make([]string, 0, len(h.System)+1)
	if base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, h.System...)

	return strings.Join(parts, "\n\n")
}

// Prompt returns the messages the budget check counts: system-role history
// first, then the conversation
func (h History) Prompt() []types.Message {
	messages := make([]types.Message, 0, len(h.System)+len(h.Messages))
	for _, content := range h.System {
		messages = append(messages, types.NewSystemMessage(content))
	}

	return append(messages, h.Messages...)
}

func (h History) Empty() bool {
	return len(h.System) == 0 && len(h.Messages) == 0
}
