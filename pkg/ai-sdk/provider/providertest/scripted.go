// Package providertest provides a scripted LanguageModel for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
)

// Reply is one scripted model turn
type Reply struct {
	Text      string
	ToolCalls []types.ToolCall
	Usage     types.Usage
	Err       error

	// Block makes Stream wait for the request context to be cancelled
	Block bool
}

// ScriptedModel replays Replies in order for Stream calls and GenerateReplies
// for Generate calls. Once a script is exhausted its last entry repeats.
type ScriptedModel struct {
	Replies         []Reply
	GenerateReplies []Reply

	mu               sync.Mutex
	streamCalls      int
	generateCalls    int
	StreamRequests   []provider.GenerateRequest
	GenerateRequests []provider.GenerateRequest
}

func NewScriptedModel(replies ...Reply) *ScriptedModel {
	return &ScriptedModel{Replies: replies}
}

func TextReply(text string) Reply {
	return Reply{Text: text}
}

func ToolCallReply(text string, calls ...types.ToolCall) Reply {
	return Reply{Text: text, ToolCalls: calls}
}

func next(script []Reply, calls int) Reply {
	if len(script) == 0 {
		return Reply{}
	}
	if calls >= len(script) {
		return script[len(script)-1]
	}

	return script[calls]
}

func (m *ScriptedModel) Generate(ctx context.Context, req provider.GenerateRequest) (*types.GenerateResponse, error) {
	m.mu.Lock()
	reply := next(m.GenerateReplies, m.generateCalls)
	m.generateCalls++
	m.GenerateRequests = append(m.GenerateRequests, req)
	m.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}

	return &types.GenerateResponse{
		Content:      reply.Text,
		ToolCalls:    reply.ToolCalls,
		Usage:        reply.Usage,
		FinishReason: types.FinishReasonStop,
		Model:        m.ID(),
	}, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, req provider.GenerateRequest) (*provider.ProviderStream, error) {
	m.mu.Lock()
	reply := next(m.Replies, m.streamCalls)
	m.streamCalls++
	m.StreamRequests = append(m.StreamRequests, req)
	m.mu.Unlock()

	if reply.Err != nil && !reply.Block {
		return nil, reply.Err
	}

	events := make(chan types.StreamEvent, 16)
	stream := provider.NewProviderStream(events)

	go func() {
		defer close(events)

		if reply.Block {
			<-ctx.Done()
			stream.SetError(ctx.Err())
			return
		}

		events <- types.NewStreamStartEvent(m.ID(), "")

		if reply.Text != "" {
			events <- types.NewTextDeltaEvent(reply.Text)
			events <- types.NewTextCompleteEvent(reply.Text)
		}

		for i, call := range reply.ToolCalls {
			events <- types.NewToolCallCompleteEvent(call, i)
		}

		finishReason := types.FinishReasonStop
		if len(reply.ToolCalls) > 0 {
			finishReason = types.FinishReasonToolCalls
		}

		events <- types.NewUsageEvent(reply.Usage)
		events <- types.NewFinishReasonEvent(finishReason)
		events <- types.NewStreamEndEvent(finishReason, reply.Usage)
	}()

	return stream, nil
}

func (m *ScriptedModel) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.streamCalls
}

func (m *ScriptedModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generateCalls
}

func (m *ScriptedModel) ID() string {
	return "scripted:test"
}

func (m *ScriptedModel) Capabilities() provider.Capabilities {
	return provider.Capabilities{SupportsTools: true, SupportsStreaming: true}
}
