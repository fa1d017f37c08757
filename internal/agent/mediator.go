package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moviepilot/mpagent/internal/memory"
	"github.com/moviepilot/mpagent/internal/notify"
	"github.com/moviepilot/mpagent/internal/tools"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/tool"
	"github.com/rs/zerolog/log"
)

const (
	statusPrefix       = "⚙️ => "
	DefaultSendTimeout = 10 * time.Second
)

type MediatorDependencies struct {
	Memory  *memory.Manager
	Buffer  *StreamBuffer
	Session tools.Session

	// SendTimeout bounds each status notification
	SendTimeout time.Duration
}

// Mediator sits between the completion loop and the capabilities. Every call
// is announced to the user, recorded as a tool_call/tool_result pair and
// turned into text, so tool failures never reach the loop as errors.
type Mediator struct {
	memory      *memory.Manager
	buffer      *StreamBuffer
	session     tools.Session
	sendTimeout time.Duration
}

func NewMediator(deps MediatorDependencies) *Mediator {
	sendTimeout := deps.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}

	return &Mediator{
		memory:      deps.Memory,
		buffer:      deps.Buffer,
		session:     deps.Session,
		sendTimeout: sendTimeout,
	}
}

// Wrap adapts a capability to the completion loop's tool interface
func (m *Mediator) Wrap(capability tools.Capability) tool.Tool {
	return tool.Define(
		capability.Name(),
		capability.Description(),
		tools.SchemaMap(capability.Parameters()),
		func(ctx context.Context, args string) (string, error) {
			return m.Invoke(ctx, capability, decodeToolArgs(capability.Name(), args)), nil
		},
	)
}

func (m *Mediator) WrapAll(capabilities []tools.Capability) []tool.Tool {
	wrapped := make([]tool.Tool, 0, len(capabilities))
	for _, c := range capabilities {
		wrapped = append(wrapped, m.Wrap(c))
	}

	return wrapped
}

func decodeToolArgs(name, args string) map[string]any {
	decoded := map[string]any{}

	if strings.TrimSpace(args) == "" {
		return decoded
	}

	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Failed to decode tool arguments")
		return map[string]any{}
	}

	if decoded == nil {
		return map[string]any{}
	}

	return decoded
}

// Invoke runs one tool call and returns the text handed back to the model
func (m *Mediator) Invoke(ctx context.Context, capability tools.Capability, args map[string]any) string {
	if args == nil {
		args = map[string]any{}
	}

	name := capability.Name()
	agentMessage := m.buffer.Drain()
	callID := newCallID()

	m.memory.AddConversation(ctx, m.session.SessionID, m.session.UserID, memory.RoleToolCall, agentMessage, map[string]any{
		memory.MetadataCallID:     callID,
		memory.MetadataToolName:   name,
		memory.MetadataParameters: maps.Clone(args),
	})

	status := ""
	if messenger, ok := capability.(tools.StatusMessenger); ok {
		status = messenger.StatusMessage(args)
	}
	if status == "" {
		if explanation, ok := args["explanation"].(string); ok {
			status = explanation
		}
	}

	parts := make([]string, 0, 2)
	if agentMessage != "" {
		parts = append(parts, agentMessage)
	}
	if status != "" {
		parts = append(parts, statusPrefix+status)
	}
	if len(parts) > 0 {
		m.send(ctx, strings.Join(parts, "\n\n"))
	}

	log.Debug().Str("tool", name).Interface("args", args).Msg("Executing tool")

	result, err := runCapability(ctx, capability, args)
	if err != nil {
		log.Error().Err(err).Str("tool", name).Str("call_id", callID).Msg("Tool execution failed")
		result = fmt.Sprintf("工具执行异常 (%s): %s", errorTypeName(err), err.Error())
	}

	text := tools.FormatResult(result)

	log.Debug().Str("tool", name).Str("result", text).Msg("Tool executed")

	m.memory.AddConversation(ctx, m.session.SessionID, m.session.UserID, memory.RoleToolResult, text, map[string]any{
		memory.MetadataCallID:   callID,
		memory.MetadataToolName: name,
	})

	return text
}

func (m *Mediator) send(ctx context.Context, text string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.sendTimeout)
	defer cancel()

	if err := m.session.Notify(sendCtx, notify.DefaultTitle, text); err != nil {
		log.Warn().Err(err).Str("session_id", m.session.SessionID).Msg("Failed to send tool status")
	}
}

func newCallID() string {
	return "call_" + uuid.NewString()[:16]
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprint(e.value)
}

func runCapability(ctx context.Context, capability tools.Capability, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if recovered, ok := r.(error); ok {
				err = recovered
				return
			}
			err = &panicError{value: r}
		}
	}()

	return capability.Run(ctx, args)
}

// errorTypeName names the concrete error type without package or pointer
func errorTypeName(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return "panic"
	}

	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Name() == "" {
		return t.String()
	}

	return t.Name()
}
