package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/moviepilot/mpagent/internal/prompt"
	"github.com/moviepilot/mpagent/internal/tools"
	sdkagent "github.com/moviepilot/mpagent/pkg/ai-sdk/agent"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/trim"
	"github.com/rs/zerolog/log"
)

const (
	FallbackReply  = "很抱歉，智能体出错了，未能生成回复内容。"
	CancelledReply = "任务已取消"
	errorReplyFmt  = "处理消息时发生错误: %s"
)

type Config struct {
	// MaxContextTokens is the model context window in thousands of tokens
	MaxContextTokens int
	MaxIterations    int
	ToolTimeout      time.Duration
	Temperature      float32
	SendTimeout      time.Duration
}

// Identity names the session an agent serves and where its replies go
type Identity struct {
	SessionID string
	UserID    string
	Channel   string
	Source    string
	Username  string
}

type SessionDependencies struct {
	Model       provider.LanguageModel
	Memory      *memory.Manager
	Prompts     *prompt.Manager
	ToolFactory *tools.Factory
	Notifier    notify.Notifier
	Counter     trim.TokenCounter
	Config      Config
}

// SessionAgent runs the turns of one session. Turns of the same session are
// serialized.
type SessionAgent struct {
	turnMu sync.Mutex

	idMu     sync.RWMutex
	identity Identity

	model       provider.LanguageModel
	memory      *memory.Manager
	prompts     *prompt.Manager
	toolFactory *tools.Factory
	notifier    notify.Notifier
	counter     trim.TokenCounter
	config      Config

	buffer     *StreamBuffer
	trimmer    *trim.Trimmer
	summarizer *summarizer
}

func NewSessionAgent(deps SessionDependencies, identity Identity) *SessionAgent {
	config := deps.Config
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}

	return &SessionAgent{
		identity:    identity,
		model:       deps.Model,
		memory:      deps.Memory,
		prompts:     deps.Prompts,
		toolFactory: deps.ToolFactory,
		notifier:    deps.Notifier,
		counter:     deps.Counter,
		config:      config,
		buffer:      NewStreamBuffer(),
		trimmer:     trim.New(deps.Counter, config.MaxContextTokens),
		summarizer: &summarizer{
			model:       deps.Model,
			memory:      deps.Memory,
			temperature: config.Temperature,
		},
	}
}

func (a *SessionAgent) Identity() Identity {
	a.idMu.RLock()
	defer a.idMu.RUnlock()

	return a.identity
}

// Refresh replaces the user id and, when non-empty, the reply route
func (a *SessionAgent) Refresh(userID, channel, source, username string) {
	a.idMu.Lock()
	defer a.idMu.Unlock()

	a.identity.UserID = userID
	if channel != "" {
		a.identity.Channel = channel
	}
	if source != "" {
		a.identity.Source = source
	}
	if username != "" {
		a.identity.Username = username
	}
}

func (a *SessionAgent) session(identity Identity) tools.Session {
	return tools.Session{
		SessionID: identity.SessionID,
		UserID:    identity.UserID,
		Channel:   identity.Channel,
		Source:    identity.Source,
		Username:  identity.Username,
		Notifier:  a.notifier,
	}
}

// summaryBudget is the history size above which the turn starts with a
// summary
func (a *SessionAgent) summaryBudget() float64 {
	return float64(a.config.MaxContextTokens) * 1000 * SummaryThreshold
}

// ProcessMessage runs one turn and returns the reply that was delivered.
// It never fails: errors are turned into a reply.
func (a *SessionAgent) ProcessMessage(ctx context.Context, message string) string {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	identity := a.Identity()
	logger := log.With().Str("session_id", identity.SessionID).Str("user_id", identity.UserID).Logger()

	reply, err := a.runTurn(ctx, identity, message)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			logger.Info().Msg("Agent execution cancelled")
			a.send(ctx, identity, CancelledReply)
			return CancelledReply
		}

		reply = fmt.Sprintf(errorReplyFmt, err.Error())
		logger.Error().Err(err).Msg("Failed to process message")
		a.send(ctx, identity, reply)
		return reply
	}

	return reply
}

func (a *SessionAgent) runTurn(ctx context.Context, identity Identity, message string) (string, error) {
	sessionID, userID := identity.SessionID, identity.UserID

	records := a.memory.GetConversation(ctx, sessionID, userID).Messages
	if len(records) > 0 && float64(a.counter.Count(BuildHistory(records).Prompt())) > a.summaryBudget() {
		a.summarizer.summarize(ctx, sessionID, userID, records)
	}

	a.memory.AddConversation(ctx, sessionID, userID, memory.RoleUser, message, nil)

	systemPrompt, err := a.prompts.AgentPrompt(identity.Channel)
	if err != nil {
		return "", fmt.Errorf("failed to load agent prompt: %w", err)
	}

	history := BuildHistory(a.memory.RecentMessagesForAgent(sessionID, userID))

	// text left over from an aborted turn must not leak into this one
	a.buffer.Drain()

	mediator := NewMediator(MediatorDependencies{
		Memory:      a.memory,
		Buffer:      a.buffer,
		Session:     a.session(identity),
		SendTimeout: a.config.SendTimeout,
	})

	runner, err := sdkagent.New(
		sdkagent.WithModel(a.model),
		sdkagent.WithTools(mediator.WrapAll(a.toolFactory.Create(a.session(identity)))...),
		sdkagent.WithMaxIterations(a.config.MaxIterations),
		sdkagent.WithToolTimeout(a.config.ToolTimeout),
		sdkagent.WithTemperature(a.config.Temperature),
		sdkagent.WithHooks(sdkagent.Hooks{
			OnBeforeGenerate: a.trimRequest,
			OnTextDelta:      a.buffer.Append,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}

	log.Info().Str("session_id", sessionID).Str("input", message).Msg("Agent reasoning")

	result, err := runner.Run(ctx, sdkagent.RunRequest{
		System:  history.SystemPrompt(systemPrompt),
		History: history.Messages,
		Input:   message,
	})
	if err != nil {
		a.buffer.Drain()
		return "", err
	}

	if !result.TotalUsage.IsZero() {
		log.Info().
			Str("session_id", sessionID).
			Int("prompt_tokens", result.TotalUsage.PromptTokens).
			Int("completion_tokens", result.TotalUsage.CompletionTokens).
			Int("total_tokens", result.TotalUsage.TotalTokens).
			Int("steps", len(result.Steps)).
			Msg("LLM usage")
	}

	reply := a.buffer.Drain()
	if strings.TrimSpace(reply) == "" {
		reply = result.Output
	}
	if strings.TrimSpace(reply) == "" {
		reply = FallbackReply
	}

	a.send(ctx, identity, reply)
	a.memory.AddConversation(ctx, sessionID, userID, memory.RoleAgent, reply, nil)

	return reply, nil
}

func (a *SessionAgent) trimRequest(ctx context.Context, req *provider.GenerateRequest) error {
	trimmed, err := a.trimmer.Trim(req.Messages)
	if err != nil {
		return fmt.Errorf("failed to trim context: %w", err)
	}

	req.Messages = trimmed

	return nil
}

// send delivers a reply even when the turn context is already cancelled
func (a *SessionAgent) send(ctx context.Context, identity Identity, text string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.SendTimeout)
	defer cancel()

	if err := a.session(identity).Notify(sendCtx, notify.DefaultTitle, text); err != nil {
		log.Warn().Err(err).Str("session_id", identity.SessionID).Msg("Failed to send agent message")
	}
}

// Cleanup releases per-session state
func (a *SessionAgent) Cleanup() {
	a.buffer.Drain()

	log.Info().Str("session_id", a.Identity().SessionID).Msg("Session agent cleaned up")
}
