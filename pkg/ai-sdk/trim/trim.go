// Package trim fits prompt messages into a token budget without breaking
// tool call chains.
package trim

import (
	"errors"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/rs/zerolog/log"
)

const (
	// BudgetRatio is the share of the context window the trimmed prompt may use
	BudgetRatio = 0.8
)

// ErrNoValidWindow is returned when no window starting on a user message fits
// the budget
var ErrNoValidWindow = errors.New("no message window fits the token budget")

// TokenCounter counts the tokens of a message list
type TokenCounter interface {
	Count(messages []types.Message) int
}

type Trimmer struct {
	counter TokenCounter
	budget  float64
}

// New builds a trimmer for a context window of maxContextTokens thousand tokens
func New(counter TokenCounter, maxContextTokens int) *Trimmer {
	return &Trimmer{
		counter: counter,
		budget:  float64(maxContextTokens) * 1000 * BudgetRatio,
	}
}

func NewWithBudget(counter TokenCounter, budget int) *Trimmer {
	return &Trimmer{
		counter: counter,
		budget:  float64(budget),
	}
}

func (t *Trimmer) Budget() float64 {
	return t.budget
}

// Trim keeps the newest messages that fit the budget, always keeping a leading
// system message, starting the window on a user message and dropping tool call
// chains the cut left incomplete.
func (t *Trimmer) Trim(messages []types.Message) ([]types.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}

	trimmed := t.keepLast(messages)
	if len(trimmed) == 0 {
		return nil, ErrNoValidWindow
	}

	safe := RepairToolChains(trimmed)

	if len(safe) < len(messages) {
		log.Info().
			Int("before", len(messages)).
			Int("after", len(safe)).
			Msg("Prompt context trimmed")
	}

	return safe, nil
}

// keepLast selects the largest newest run of whole messages within budget.
// The candidate list is built newest first, with the system message pinned at
// the head, so the search grows the window backwards in time.
func (t *Trimmer) keepLast(messages []types.Message) []types.Message {
	pinnedSystem := messages[0].Role == types.RoleSystem

	candidates := make([]types.Message, 0, len(messages))
	if pinnedSystem {
		candidates = append(candidates, messages[0])
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if pinnedSystem && i == 0 {
			break
		}
		candidates = append(candidates, messages[i])
	}

	idx := t.maxPrefix(candidates)

	// the oldest kept message must be a user message
	for idx > 0 && candidates[idx-1].Role != types.RoleUser {
		idx--
	}

	kept := candidates[:idx]

	result := make([]types.Message, 0, len(kept))
	start := 0
	if pinnedSystem && len(kept) > 0 {
		result = append(result, kept[0])
		start = 1
	}

	for i := len(kept) - 1; i >= start; i-- {
		result = append(result, kept[i])
	}

	return result
}

// maxPrefix returns the length of the longest prefix of candidates whose
// token count fits the budget
func (t *Trimmer) maxPrefix(candidates []types.Message) int {
	if t.fits(candidates) {
		return len(candidates)
	}

	left, right := 0, len(candidates)
	for left < right {
		mid := (left + right + 1) / 2

		if t.fits(candidates[:mid]) {
			left = mid
		} else {
			right = mid - 1
		}
	}

	return left
}

func (t *Trimmer) fits(messages []types.Message) bool {
	return float64(t.counter.Count(messages)) <= t.budget
}

// RepairToolChains drops assistant messages whose tool calls are not answered
// by directly following tool messages in call order, and drops tool messages
// that are not part of such a chain.
func RepairToolChains(messages []types.Message) []types.Message {
	safe := make([]types.Message, 0, len(messages))

	i := 0
	for i < len(messages) {
		msg := messages[i]

		if msg.HasToolCalls() {
			next := i + 1
			valid := true

			for _, call := range msg.ToolCalls {
				if next >= len(messages) || messages[next].Role != types.RoleTool || messages[next].ToolCallID != call.ID {
					valid = false
					break
				}
				next++
			}

			if valid {
				safe = append(safe, messages[i:next]...)
				i = next
				continue
			}

			log.Warn().Int("tool_calls", len(msg.ToolCalls)).Msg("Dropping incomplete tool call chain")
			i++
			continue
		}

		if msg.Role == types.RoleTool {
			log.Warn().Str("tool_call_id", msg.ToolCallID).Msg("Dropping orphaned tool message")
			i++
			continue
		}

		safe = append(safe, msg)
		i++
	}

	return safe
}
