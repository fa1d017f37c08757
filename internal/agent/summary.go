package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/rs/zerolog/log"
)

// SummaryThreshold is the share of the context window at which history is
// compacted before a turn
const SummaryThreshold = 0.9

const summaryInstruction = "Please provide a comprehensive and highly informational summary of the preceding conversation and tool executions. " +
	"Your goal is to condense the history while retaining all critical details for future reference. " +
	"Ensure you include:\n" +
	"1. User's core intents, specific requests, and any mentioned preferences.\n" +
	"2. Names of movies, TV shows, or other key entities discussed.\n" +
	"3. A concise log of tool calls made and their specific results/outcomes.\n" +
	"4. The current status of any tasks and any pending actions.\n" +
	"5. Any important context that would be necessary for the agent to continue the conversation seamlessly.\n" +
	"The summary should be dense with information and serve as the primary context for the next stage of the interaction."

const summaryInputPrefix = "Here is the conversation history to summarize:\n"

// RenderTranscript writes stored records as the plain-text transcript the
// summarizer reads
func RenderTranscript(records []memory.Message) string {
	var b strings.Builder

	for _, record := range records {
		switch record.Role {
		case memory.RoleUser:
			fmt.Fprintf(&b, "用户: %s\n", record.Content)
		case memory.RoleAgent:
			fmt.Fprintf(&b, "智能体: %s\n", record.Content)
		case memory.RoleToolCall:
			fmt.Fprintf(&b, "智能体: %s\n", record.Content)
			fmt.Fprintf(&b, "智能体调用工具: %s，参数: %s\n",
				record.MetadataString(memory.MetadataToolName),
				marshalArgs(record.Parameters()))
		case memory.RoleToolResult:
			fmt.Fprintf(&b, "工具响应: %s\n", record.Content)
		case memory.RoleSystem:
			fmt.Fprintf(&b, "系统: %s\n", record.Content)
		}
	}

	return b.String()
}

func marshalArgs(args map[string]any) string {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(args); err != nil {
		return fmt.Sprint(args)
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// SummaryRecord wraps a summary as the system message that replaces history
func SummaryRecord(summary string) string {
	return fmt.Sprintf("<history_summary>\n%s\n</history_summary>", summary)
}

type summarizer struct {
	model       provider.LanguageModel
	memory      *memory.Manager
	temperature float32
}

// summarize condenses records into one system message. Failures are logged
// and leave memory untouched.
func (s *summarizer) summarize(ctx context.Context, sessionID, userID string, records []memory.Message) {
	if len(records) == 0 {
		return
	}

	log.Info().Str("session_id", sessionID).Msg("History is above the context threshold, summarizing")

	response, err := s.model.Generate(ctx, provider.GenerateRequest{
		Messages: []types.Message{
			types.NewSystemMessage(summaryInstruction),
			types.NewUserMessage(summaryInputPrefix + RenderTranscript(records)),
		},
		Temperature: s.temperature,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to summarize history")
		return
	}

	summary := response.Content
	if summary == "" {
		log.Warn().Str("session_id", sessionID).Msg("Summary is empty, keeping history")
		return
	}

	s.memory.ClearMemory(ctx, sessionID, userID)
	s.memory.AddConversation(ctx, sessionID, userID, memory.RoleSystem, SummaryRecord(summary), nil)

	log.Info().Str("session_id", sessionID).Msg("History replaced by summary")
}
