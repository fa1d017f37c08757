package trim

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/tokenizer"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatCounter charges a fixed cost per message
type flatCounter int

func (c flatCounter) Count(messages []types.Message) int {
	return int(c) * len(messages)
}

func user(content string) types.Message {
	return types.NewUserMessage(content)
}

func agent(content string) types.Message {
	return types.NewAssistantMessage(content)
}

func calls(ids ...string) types.Message {
	toolCalls := make([]types.ToolCall, 0, len(ids))
	for _, id := range ids {
		toolCalls = append(toolCalls, types.ToolCall{ID: id, Name: "tool_" + id, Arguments: map[string]any{}})
	}

	return types.NewAssistantMessage("", toolCalls...)
}

func result(id string) types.Message {
	return types.NewToolMessage(id, "result "+id)
}

func system() types.Message {
	return types.NewSystemMessage("sys")
}

func contents(messages []types.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.HasToolCalls():
			ids := ""
			for _, c := range m.ToolCalls {
				ids += c.ID
			}
			out = append(out, "call:"+ids)
		case m.Role == types.RoleTool:
			out = append(out, "result:"+m.ToolCallID)
		default:
			out = append(out, m.Content)
		}
	}

	return out
}

func TestTrimmer_Trim(t *testing.T) {
	tests := []struct {
		name     string
		messages []types.Message
		budget   int
		expected []string
	}{
		{
			name:     "everything fits",
			messages: []types.Message{system(), user("u1"), agent("a1")},
			budget:   100,
			expected: []string{"sys", "u1", "a1"},
		},
		{
			name:     "keeps newest turns and system",
			messages: []types.Message{system(), user("u1"), agent("a1"), user("u2"), agent("a2")},
			budget:   35,
			expected: []string{"sys", "u2", "a2"},
		},
		{
			name:     "window moves forward to a user message",
			messages: []types.Message{system(), user("u1"), agent("a1"), user("u2"), agent("a2"), agent("a3")},
			budget:   45,
			expected: []string{"sys", "u2", "a2", "a3"},
		},
		{
			name:     "whole tool chain kept",
			messages: []types.Message{system(), user("u1"), agent("a1"), user("u2"), calls("c1"), result("c1"), agent("a2")},
			budget:   55,
			expected: []string{"sys", "u2", "call:c1", "result:c1", "a2"},
		},
		{
			name:     "without system message",
			messages: []types.Message{user("u1"), agent("a1"), user("u2"), agent("a2")},
			budget:   20,
			expected: []string{"u2", "a2"},
		},
		{
			name:     "system message only pinned when first",
			messages: []types.Message{user("u1"), system(), user("u2"), agent("a2")},
			budget:   20,
			expected: []string{"u2", "a2"},
		},
		{
			name:     "trailing non user messages dropped when everything fits",
			messages: []types.Message{system(), agent("a0"), user("u1"), agent("a1")},
			budget:   100,
			expected: []string{"sys", "u1", "a1"},
		},
		{
			name:     "repair runs after the cut",
			messages: []types.Message{system(), user("u1"), calls("x", "y"), result("x"), agent("a1")},
			budget:   100,
			expected: []string{"sys", "u1", "a1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trimmer := NewWithBudget(flatCounter(10), tt.budget)

			trimmed, err := trimmer.Trim(tt.messages)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, contents(trimmed))
		})
	}
}

func TestTrimmer_Trim_NoValidWindow(t *testing.T) {
	tests := []struct {
		name     string
		messages []types.Message
		budget   int
	}{
		{
			name:     "system message alone exceeds budget",
			messages: []types.Message{system(), user("u1")},
			budget:   5,
		},
		{
			name:     "no user message in the window",
			messages: []types.Message{system(), user("u1"), calls("c1"), result("c1"), agent("a1")},
			budget:   35,
		},
		{
			name:     "no user message at all",
			messages: []types.Message{agent("a1"), agent("a2")},
			budget:   100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithBudget(flatCounter(10), tt.budget).Trim(tt.messages)
			assert.ErrorIs(t, err, ErrNoValidWindow)
		})
	}
}

func TestTrimmer_Trim_Empty(t *testing.T) {
	trimmed, err := NewWithBudget(flatCounter(10), 10).Trim(nil)
	require.NoError(t, err)
	assert.Empty(t, trimmed)
}

func TestNew_Budget(t *testing.T) {
	trimmer := New(flatCounter(1), 64)
	assert.InDelta(t, 51200.0, trimmer.Budget(), 0.001)
}

func TestRepairToolChains(t *testing.T) {
	tests := []struct {
		name     string
		messages []types.Message
		expected []string
	}{
		{
			name:     "missing second result drops call and first result",
			messages: []types.Message{calls("A", "B"), result("A")},
			expected: []string{},
		},
		{
			name:     "complete chain kept",
			messages: []types.Message{user("u"), calls("A", "B"), result("A"), result("B"), agent("done")},
			expected: []string{"u", "call:AB", "result:A", "result:B", "done"},
		},
		{
			name:     "results out of order",
			messages: []types.Message{calls("A", "B"), result("B"), result("A")},
			expected: []string{},
		},
		{
			name:     "orphaned result",
			messages: []types.Message{user("u"), result("X")},
			expected: []string{"u"},
		},
		{
			name:     "result not adjacent",
			messages: []types.Message{calls("A"), user("u"), result("A")},
			expected: []string{"u"},
		},
		{
			name:     "extra result after a complete chain",
			messages: []types.Message{calls("A"), result("A"), result("Z")},
			expected: []string{"call:A", "result:A"},
		},
		{
			name:     "plain messages untouched",
			messages: []types.Message{system(), user("u"), agent("a")},
			expected: []string{"sys", "u", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, contents(RepairToolChains(tt.messages)))
		})
	}
}

func TestTrimmer_Trim_RandomSequencesKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	counter := tokenizer.NewCounterWithEncoder(tokenizer.HeuristicEncoder{})

	for round := 0; round < 300; round++ {
		messages := randomConversation(rng)
		trimmer := NewWithBudget(counter, 20+rng.IntN(200))

		trimmed, err := trimmer.Trim(messages)
		if err != nil {
			assert.ErrorIs(t, err, ErrNoValidWindow)
			continue
		}

		assertToolChainIntegrity(t, trimmed)
		assertStartsOnUser(t, trimmed)
		assert.LessOrEqual(t, float64(counter.Count(trimmed)), trimmer.Budget())
	}
}

func randomConversation(rng *rand.Rand) []types.Message {
	messages := []types.Message{system()}
	next := 0

	for i := 0; i < 1+rng.IntN(12); i++ {
		switch rng.IntN(4) {
		case 0, 1:
			messages = append(messages, user(fmt.Sprintf("user message %d", i)))
		case 2:
			messages = append(messages, agent(fmt.Sprintf("agent reply %d", i)))
		case 3:
			n := 1 + rng.IntN(3)
			ids := make([]string, 0, n)
			for j := 0; j < n; j++ {
				ids = append(ids, fmt.Sprintf("c%d", next))
				next++
			}

			messages = append(messages, calls(ids...))

			// sometimes lose or shuffle results
			for j, id := range ids {
				if rng.IntN(6) == 0 {
					continue
				}
				if rng.IntN(8) == 0 && j+1 < len(ids) {
					id = ids[j+1]
				}
				messages = append(messages, result(id))
			}
		}
	}

	return messages
}

func assertToolChainIntegrity(t *testing.T, messages []types.Message) {
	t.Helper()

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.HasToolCalls() {
			for j, call := range msg.ToolCalls {
				k := i + 1 + j
				require.Less(t, k, len(messages), "missing tool result")
				assert.Equal(t, types.RoleTool, messages[k].Role)
				assert.Equal(t, call.ID, messages[k].ToolCallID)
			}
			i += len(msg.ToolCalls)
			continue
		}

		assert.NotEqual(t, types.RoleTool, msg.Role, "orphaned tool message at %d", i)
	}
}

func assertStartsOnUser(t *testing.T, messages []types.Message) {
	t.Helper()

	for _, msg := range messages {
		if msg.Role == types.RoleSystem {
			continue
		}
		assert.Equal(t, types.RoleUser, msg.Role)
		return
	}
}
