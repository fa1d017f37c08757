package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

// Provider implements the LanguageModel interface for OpenAI compatible
// chat completion APIs (OpenAI, DeepSeek, ...)
type Provider struct {
	client *openai.Client
	name   string

	Settings provider.Settings
}

type Config struct {
	APIKey  string
	BaseURL string

	// Name labels the provider in ID(), defaults to "openai"
	Name string

	provider.Settings
}

// New creates a new OpenAI provider
func New(apiKey, model string) *Provider {
	return NewWithConfig(Config{
		APIKey:   apiKey,
		Settings: provider.Settings{Model: model},
	})
}

func NewWithConfig(config Config) *Provider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	name := config.Name
	if name == "" {
		name = "openai"
	}

	return &Provider{
		client:   openai.NewClientWithConfig(clientConfig),
		name:     name,
		Settings: config.Settings,
	}
}

func (p *Provider) chatRequest(req provider.GenerateRequest) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:       p.Settings.Model,
		Messages:    convertMessages(req.Messages, req.System),
		Tools:       convertTools(req.Tools),
		Temperature: p.Settings.Temperature,
		Stop:        req.Stop,
	}

	if req.Temperature > 0 {
		chatReq.Temperature = req.Temperature
	}

	maxTokens := p.Settings.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	if maxTokens > 0 {
		if isMaxCompletionTokensModel(p.Settings.Model) {
			chatReq.MaxCompletionTokens = maxTokens
		} else {
			chatReq.MaxTokens = maxTokens
		}
	}

	return chatReq
}

// Generate implements the Generate method of the LanguageModel interface
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (*types.GenerateResponse, error) {
	chatReq := p.chatRequest(req)

	log.Debug().Str("model", chatReq.Model).Int("messages", len(chatReq.Messages)).Msg("Generating completion")

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s api error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, types.ErrEmptyResponse
	}

	choice := resp.Choices[0]
	response := &types.GenerateResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if resp.Usage.PromptTokensDetails != nil {
		response.Usage.CachedInputTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	for _, tc := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
		})
	}

	return response, nil
}

// Stream implements the Stream method of the LanguageModel interface
func (p *Provider) Stream(ctx context.Context, req provider.GenerateRequest) (*provider.ProviderStream, error) {
	chatReq := p.chatRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s stream error: %w", p.name, err)
	}

	eventChan := make(chan types.StreamEvent, 100)
	providerStream := provider.NewProviderStream(eventChan)

	go func() {
		defer close(eventChan)
		defer stream.Close()

		toolCalls := make(map[int]*toolCallBuilder)
		var totalUsage types.Usage
		var fullText string
		finishReason := types.FinishReasonStop
		streamStarted := false

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				providerStream.SetError(fmt.Errorf("stream recv error: %w", err))
				return
			}

			if !streamStarted {
				eventChan <- types.NewStreamStartEvent(response.Model, response.ID)
				streamStarted = true
			}

			// usage arrives in a final chunk with no choices
			if response.Usage != nil {
				totalUsage = types.Usage{
					PromptTokens:     response.Usage.PromptTokens,
					CompletionTokens: response.Usage.CompletionTokens,
					TotalTokens:      response.Usage.TotalTokens,
				}
				if response.Usage.PromptTokensDetails != nil {
					totalUsage.CachedInputTokens = response.Usage.PromptTokensDetails.CachedTokens
				}

				eventChan <- types.NewUsageEvent(totalUsage)
			}

			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				fullText += delta.Content
				eventChan <- types.NewTextDeltaEvent(delta.Content)
			}

			for _, tc := range delta.ToolCalls {
				if tc.Index == nil {
					continue
				}

				index := *tc.Index
				builder, exists := toolCalls[index]
				if !exists {
					builder = &toolCallBuilder{id: tc.ID, name: tc.Function.Name}
					toolCalls[index] = builder

					eventChan <- types.NewToolCallStartEvent(tc.ID, tc.Function.Name, index)
				}

				if tc.Function.Arguments != "" {
					builder.arguments += tc.Function.Arguments
					eventChan <- types.NewToolCallDeltaEvent(builder.id, tc.Function.Arguments, index)
				}
			}

			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
				eventChan <- types.NewFinishReasonEvent(finishReason)
			}
		}

		if fullText != "" {
			eventChan <- types.NewTextCompleteEvent(fullText)
		}

		for _, index := range slices.Sorted(maps.Keys(toolCalls)) {
			builder := toolCalls[index]

			eventChan <- types.NewToolCallCompleteEvent(types.ToolCall{
				ID:        builder.id,
				Name:      builder.name,
				Arguments: parseArguments(builder.arguments),
			}, index)
		}

		eventChan <- types.NewStreamEndEvent(finishReason, totalUsage)
	}()

	return providerStream, nil
}

type toolCallBuilder struct {
	id        string
	name      string
	arguments string
}

func (p *Provider) ID() string {
	return fmt.Sprintf("%s:%s", p.name, p.Settings.Model)
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTools:     true,
		SupportsStreaming: true,
		MaxContextTokens:  getMaxContextTokens(p.Settings.Model),
		MaxOutputTokens:   getMaxOutputTokens(p.Settings.Model),
	}
}

func convertMessages(messages []types.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Text(),
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)

			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argsJSON),
				},
			})
		}

		result = append(result, oaiMsg)
	}

	return result
}

func convertTools(tools []types.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}

	return result
}

func parseArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Warn().Err(err).Str("arguments", raw).Msg("Failed to parse tool call arguments")
	}

	return args
}

var maxCompletionTokensModels = map[string]bool{
	"o1": true, "o1-mini": true, "o3": true, "o3-mini": true,
	"gpt-5": true, "gpt-5-mini": true, "gpt-5-nano": true,
}

func isMaxCompletionTokensModel(model string) bool {
	return maxCompletionTokensModels[model]
}

func getMaxContextTokens(model string) int {
	contextLimits := map[string]int{
		"gpt-5":             400000,
		"gpt-5-mini":        400000,
		"gpt-4o":            128000,
		"gpt-4o-mini":       128000,
		"deepseek-chat":     64000,
		"deepseek-reasoner": 64000,
	}
	if limit, ok := contextLimits[model]; ok {
		return limit
	}

	return 8192
}

func getMaxOutputTokens(model string) int {
	outputLimits := map[string]int{
		"gpt-5":             128000,
		"gpt-5-mini":        128000,
		"gpt-4o":            4096,
		"gpt-4o-mini":       16384,
		"deepseek-chat":     8192,
		"deepseek-reasoner": 8192,
	}
	if limit, ok := outputLimits[model]; ok {
		return limit
	}

	return 4096
}
