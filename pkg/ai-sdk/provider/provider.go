package provider

import (
	"context"
	"sync"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
)

// LanguageModel defines the interface that all LLM providers must implement
type LanguageModel interface {
	// Generate produces a complete response (blocking)
	Generate(ctx context.Context, req GenerateRequest) (*types.GenerateResponse, error)

	// Stream produces a streaming response. The returned stream's Events
	// channel is closed when generation ends; Err reports the terminal error.
	Stream(ctx context.Context, req GenerateRequest) (*ProviderStream, error)

	// ID returns the unique identifier for this model
	ID() string

	Capabilities() Capabilities
}

// GenerateRequest contains all parameters for generating text
type GenerateRequest struct {
	Messages []types.Message `json:"messages"`

	// System is an optional system prompt sent ahead of Messages
	System string `json:"system,omitempty"`

	Tools []types.Tool `json:"tools,omitempty"`

	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`

	Stop []string `json:"stop,omitempty"`
}

// Capabilities describes what a model can do
type Capabilities struct {
	SupportsTools     bool `json:"supports_tools"`
	SupportsStreaming bool `json:"supports_streaming"`
	MaxContextTokens  int  `json:"max_context_tokens"`
	MaxOutputTokens   int  `json:"max_output_tokens"`
}

// ProviderStream is a single streamed generation
type ProviderStream struct {
	Events <-chan types.StreamEvent

	mu  sync.RWMutex
	err error
}

func NewProviderStream(events <-chan types.StreamEvent) *ProviderStream {
	return &ProviderStream{Events: events}
}

// SetError records the terminal error. Providers call it before closing Events.
func (s *ProviderStream) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

func (s *ProviderStream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.err
}

// Settings are the request settings shared by the provider adapters
type Settings struct {
	Model       string
	Temperature float32
	MaxTokens   int
}
