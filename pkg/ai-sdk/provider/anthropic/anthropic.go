package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/rs/zerolog/log"
)

const defaultMaxTokens = 4096

// Provider implements the LanguageModel interface for Anthropic Claude
type Provider struct {
	client anthropic.Client
	config Config
}

type Config struct {
	APIKey  string
	BaseURL string

	// CacheSystemPrompt marks the system prompt as an ephemeral cache breakpoint
	CacheSystemPrompt bool

	provider.Settings
}

func New(apiKey, model string) *Provider {
	return NewWithConfig(Config{
		APIKey:   apiKey,
		Settings: provider.Settings{Model: model},
	})
}

func NewWithConfig(config Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		client: anthropic.NewClient(opts...),
		config: config,
	}
}

func (p *Provider) ID() string {
	return fmt.Sprintf("anthropic:%s", p.config.Model)
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTools:     true,
		SupportsStreaming: true,
		MaxContextTokens:  200000,
		MaxOutputTokens:   getMaxOutputTokens(p.config.Model),
	}
}

func (p *Provider) messageParams(req provider.GenerateRequest) anthropic.MessageNewParams {
	messages, system := p.convertMessages(req.Messages, req.System)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  messages,
		MaxTokens: int64(defaultMaxTokens),
	}

	if len(system) > 0 {
		params.System = system
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	} else if p.config.MaxTokens > 0 {
		params.MaxTokens = int64(p.config.MaxTokens)
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	} else if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	return params
}

// Generate implements the Generate method of the LanguageModel interface
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (*types.GenerateResponse, error) {
	resp, err := p.client.Messages.New(ctx, p.messageParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	response := &types.GenerateResponse{
		Model:        string(resp.Model),
		FinishReason: normalizeStopReason(string(resp.StopReason)),
		Usage: types.Usage{
			PromptTokens:      int(resp.Usage.InputTokens),
			CompletionTokens:  int(resp.Usage.OutputTokens),
			TotalTokens:       int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			CachedInputTokens: int(resp.Usage.CacheReadInputTokens),
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			response.ToolCalls = append(response.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: parseArguments(block.Input),
			})
		}
	}

	response.Content = text.String()

	return response, nil
}

// Stream implements the Stream method of the LanguageModel interface
func (p *Provider) Stream(ctx context.Context, req provider.GenerateRequest) (*provider.ProviderStream, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.messageParams(req))

	eventChan := make(chan types.StreamEvent, 100)
	providerStream := provider.NewProviderStream(eventChan)

	go func() {
		defer close(eventChan)
		defer stream.Close()

		builders := make(map[int]*toolCallBuilder)
		var fullText string
		var usage types.Usage
		finishReason := types.FinishReasonStop

		for stream.Next() {
			event := stream.Current()

			switch event.Type {
			case "message_start":
				eventChan <- types.NewStreamStartEvent(string(event.Message.Model), event.Message.ID)

				usage.PromptTokens = int(event.Message.Usage.InputTokens)
				usage.CachedInputTokens = int(event.Message.Usage.CacheReadInputTokens)

			case "content_block_start":
				index := int(event.Index)

				if event.ContentBlock.Type == "tool_use" {
					builders[index] = &toolCallBuilder{
						id:   event.ContentBlock.ID,
						name: event.ContentBlock.Name,
					}
					eventChan <- types.NewToolCallStartEvent(event.ContentBlock.ID, event.ContentBlock.Name, index)
				}

			case "content_block_delta":
				index := int(event.Index)

				switch event.Delta.Type {
				case "text_delta":
					fullText += event.Delta.Text
					eventChan <- types.NewTextDeltaEvent(event.Delta.Text)
				case "input_json_delta":
					if builder, exists := builders[index]; exists {
						builder.arguments += event.Delta.PartialJSON
						eventChan <- types.NewToolCallDeltaEvent(builder.id, event.Delta.PartialJSON, index)
					}
				}

			case "content_block_stop":
				index := int(event.Index)

				if builder, exists := builders[index]; exists {
					eventChan <- types.NewToolCallCompleteEvent(types.ToolCall{
						ID:        builder.id,
						Name:      builder.name,
						Arguments: parseArguments(json.RawMessage(builder.arguments)),
					}, index)
				}

			case "message_delta":
				usage.CompletionTokens = int(event.Usage.OutputTokens)
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				eventChan <- types.NewUsageEvent(usage)

				if event.Delta.StopReason != "" {
					finishReason = normalizeStopReason(string(event.Delta.StopReason))
					eventChan <- types.NewFinishReasonEvent(finishReason)
				}

			case "message_stop":
				if fullText != "" {
					eventChan <- types.NewTextCompleteEvent(fullText)
				}
				eventChan <- types.NewStreamEndEvent(finishReason, usage)
			}
		}

		if err := stream.Err(); err != nil {
			providerStream.SetError(fmt.Errorf("anthropic stream error: %w", err))
		}
	}()

	return providerStream, nil
}

type toolCallBuilder struct {
	id        string
	name      string
	arguments string
}

// convertMessages folds system messages into the system prompt and groups
// consecutive tool messages into a single user turn of tool_result blocks
func (p *Provider) convertMessages(messages []types.Message, systemPrompt string) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	var systemTexts []string
	if systemPrompt != "" {
		systemTexts = append(systemTexts, systemPrompt)
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			systemTexts = append(systemTexts, msg.Text())

		case types.RoleTool:
			block := anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false)

			last := len(result) - 1
			if last >= 0 && result[last].Role == anthropic.MessageParamRoleUser && isToolResultTurn(result[last]) {
				result[last].Content = append(result[last].Content, block)
				continue
			}

			result = append(result, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{block},
			})

		default:
			var blocks []anthropic.ContentBlockParamUnion

			if text := msg.Text(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}

			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}

			if len(blocks) == 0 {
				continue
			}

			result = append(result, anthropic.MessageParam{
				Role:    anthropic.MessageParamRole(msg.Role),
				Content: blocks,
			})
		}
	}

	if len(systemTexts) == 0 {
		return result, nil
	}

	textBlock := anthropic.TextBlockParam{
		Text: strings.Join(systemTexts, "\n\n"),
		Type: "text",
	}

	if p.config.CacheSystemPrompt {
		textBlock.CacheControl = anthropic.CacheControlEphemeralParam{Type: "ephemeral"}
	}

	return result, []anthropic.TextBlockParam{textBlock}
}

func isToolResultTurn(msg anthropic.MessageParam) bool {
	for _, block := range msg.Content {
		if block.OfToolResult == nil {
			return false
		}
	}

	return len(msg.Content) > 0
}

func convertTools(tools []types.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: "object",
		}

		if properties, ok := tool.Parameters["properties"]; ok {
			inputSchema.Properties = properties
		}

		switch required := tool.Parameters["required"].(type) {
		case []string:
			inputSchema.Required = required
		case []any:
			for _, r := range required {
				if s, ok := r.(string); ok {
					inputSchema.Required = append(inputSchema.Required, s)
				}
			}
		}

		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: inputSchema,
		}

		result[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}

	return result
}

func parseArguments(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}

	if err := json.Unmarshal(raw, &args); err != nil {
		log.Warn().Err(err).Msg("Failed to parse tool_use input")
	}

	return args
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return types.FinishReasonStop
	case "max_tokens":
		return types.FinishReasonLength
	case "tool_use":
		return types.FinishReasonToolCalls
	default:
		return reason
	}
}

func getMaxOutputTokens(model string) int {
	if strings.Contains(model, "claude-3-5") || strings.Contains(model, "claude-sonnet-4") || strings.Contains(model, "claude-opus-4") {
		return 8192
	}

	return 4096
}
