package types

import "time"

// StreamEvent is emitted by a provider stream while a model generates a reply
type StreamEvent interface {
	GetType() StreamEventType
	GetTimestamp() time.Time
}

type StreamEventType string

const (
	EventTypeStreamStart StreamEventType = "stream-start"
	EventTypeStreamEnd   StreamEventType = "stream-end"

	EventTypeTextDelta    StreamEventType = "text-delta"
	EventTypeTextComplete StreamEventType = "text-complete"

	EventTypeToolCallStart    StreamEventType = "tool-call-start"
	EventTypeToolCallDelta    StreamEventType = "tool-call-delta"
	EventTypeToolCallComplete StreamEventType = "tool-call-complete"

	EventTypeUsage        StreamEventType = "usage"
	EventTypeFinishReason StreamEventType = "finish-reason"
)

type baseEvent struct {
	eventType StreamEventType
	timestamp time.Time
}

func (e *baseEvent) GetType() StreamEventType {
	return e.eventType
}

func (e *baseEvent) GetTimestamp() time.Time {
	return e.timestamp
}

func newBaseEvent(eventType StreamEventType) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

type StreamStartEvent struct {
	baseEvent
	Model     string `json:"model"`
	RequestID string `json:"request_id,omitempty"`
}

type StreamEndEvent struct {
	baseEvent
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// TextDeltaEvent carries an incremental chunk of assistant text
type TextDeltaEvent struct {
	baseEvent
	Delta string `json:"delta"`
}

type TextCompleteEvent struct {
	baseEvent
	FullText string `json:"full_text"`
}

type ToolCallStartEvent struct {
	baseEvent
	ID    string `json:"id"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

type ToolCallDeltaEvent struct {
	baseEvent
	ID            string `json:"id"`
	ArgumentDelta string `json:"argument_delta"`
	Index         int    `json:"index"`
}

// ToolCallCompleteEvent carries a fully assembled tool call
type ToolCallCompleteEvent struct {
	baseEvent
	ToolCall ToolCall `json:"tool_call"`
	Index    int      `json:"index"`
}

type UsageEvent struct {
	baseEvent
	Usage Usage `json:"usage"`
}

type FinishReasonEvent struct {
	baseEvent
	Reason string `json:"reason"`
}

func NewStreamStartEvent(model, requestID string) *StreamStartEvent {
	return &StreamStartEvent{
		baseEvent: newBaseEvent(EventTypeStreamStart),
		Model:     model,
		RequestID: requestID,
	}
}

func NewStreamEndEvent(finishReason string, usage Usage) *StreamEndEvent {
	return &StreamEndEvent{
		baseEvent:    newBaseEvent(EventTypeStreamEnd),
		FinishReason: finishReason,
		Usage:        usage,
	}
}

func NewTextDeltaEvent(delta string) *TextDeltaEvent {
	return &TextDeltaEvent{
		baseEvent: newBaseEvent(EventTypeTextDelta),
		Delta:     delta,
	}
}

func NewTextCompleteEvent(fullText string) *TextCompleteEvent {
	return &TextCompleteEvent{
		baseEvent: newBaseEvent(EventTypeTextComplete),
		FullText:  fullText,
	}
}

func NewToolCallStartEvent(id, name string, index int) *ToolCallStartEvent {
	return &ToolCallStartEvent{
		baseEvent: newBaseEvent(EventTypeToolCallStart),
		ID:        id,
		Name:      name,
		Index:     index,
	}
}

func NewToolCallDeltaEvent(id, argumentDelta string, index int) *ToolCallDeltaEvent {
	return &ToolCallDeltaEvent{
		baseEvent:     newBaseEvent(EventTypeToolCallDelta),
		ID:            id,
		ArgumentDelta: argumentDelta,
		Index:         index,
	}
}

func NewToolCallCompleteEvent(toolCall ToolCall, index int) *ToolCallCompleteEvent {
	return &ToolCallCompleteEvent{
		baseEvent: newBaseEvent(EventTypeToolCallComplete),
		ToolCall:  toolCall,
		Index:     index,
	}
}

func NewUsageEvent(usage Usage) *UsageEvent {
	return &UsageEvent{
		baseEvent: newBaseEvent(EventTypeUsage),
		Usage:     usage,
	}
}

func NewFinishReasonEvent(reason string) *FinishReasonEvent {
	return &FinishReasonEvent{
		baseEvent: newBaseEvent(EventTypeFinishReason),
		Reason:    reason,
	}
}
