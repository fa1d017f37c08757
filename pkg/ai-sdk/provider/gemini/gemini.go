package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"google.golang.org/genai"
)

const thoughtSignatureKey = "thought_signature"

// Provider implements the LanguageModel interface for Google Gemini
type Provider struct {
	client *genai.Client

	Settings provider.Settings
}

func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	return NewWithSettings(ctx, apiKey, provider.Settings{Model: model, MaxTokens: 4096})
}

func NewWithSettings(ctx context.Context, apiKey string, settings provider.Settings) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Provider{
		client:   client,
		Settings: settings,
	}, nil
}

func (p *Provider) contentConfig(req provider.GenerateRequest, system string) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.Settings.MaxTokens),
	}

	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	temperature := p.Settings.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	if temperature > 0 {
		config.Temperature = genai.Ptr(temperature)
	}

	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}

	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(system)},
		}
	}

	if tools := convertTools(req.Tools); len(tools) > 0 {
		config.Tools = tools
	}

	return config
}

// Generate implements the Generate method of the LanguageModel interface
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (*types.GenerateResponse, error) {
	contents, system := convertMessages(req.Messages, req.System)

	resp, err := p.client.Models.GenerateContent(ctx, p.Settings.Model, contents, p.contentConfig(req, system))
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, types.ErrEmptyResponse
	}

	candidate := resp.Candidates[0]

	response := &types.GenerateResponse{
		FinishReason: mapFinishReason(candidate.FinishReason),
		Model:        p.Settings.Model,
		Usage:        convertUsage(resp.UsageMetadata),
	}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				response.Content += part.Text
			}
			if part.FunctionCall != nil {
				response.ToolCalls = append(response.ToolCalls, convertFunctionCall(part))
			}
		}
	}

	return response, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.GenerateRequest) (*provider.ProviderStream, error) {
	contents, system := convertMessages(req.Messages, req.System)
	config := p.contentConfig(req, system)

	eventChan := make(chan types.StreamEvent, 100)
	ps := provider.NewProviderStream(eventChan)

	go func() {
		defer close(eventChan)

		var fullText string
		var usage types.Usage
		var toolCalls int
		var streamErr error

		eventChan <- types.NewStreamStartEvent(p.Settings.Model, uuid.New().String())

		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.Settings.Model, contents, config) {
			if err != nil {
				streamErr = fmt.Errorf("gemini stream error: %w", err)
				break
			}

			if resp.UsageMetadata != nil {
				usage = convertUsage(resp.UsageMetadata)
			}

			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}

				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						fullText += part.Text
						eventChan <- types.NewTextDeltaEvent(part.Text)
					}

					if part.FunctionCall != nil {
						toolCall := convertFunctionCall(part)

						eventChan <- types.NewToolCallStartEvent(toolCall.ID, toolCall.Name, toolCalls)
						eventChan <- types.NewToolCallCompleteEvent(toolCall, toolCalls)
						toolCalls++
					}
				}
			}
		}

		if streamErr != nil {
			ps.SetError(streamErr)
			return
		}

		if fullText != "" {
			eventChan <- types.NewTextCompleteEvent(fullText)
		}

		eventChan <- types.NewUsageEvent(usage)

		finishReason := types.FinishReasonStop
		if toolCalls > 0 {
			finishReason = types.FinishReasonToolCalls
		}

		eventChan <- types.NewFinishReasonEvent(finishReason)
		eventChan <- types.NewStreamEndEvent(finishReason, usage)
	}()

	return ps, nil
}

func (p *Provider) ID() string {
	return fmt.Sprintf("gemini:%s", p.Settings.Model)
}

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsTools:     true,
		SupportsStreaming: true,
		MaxContextTokens:  1048576,
		MaxOutputTokens:   getMaxOutputTokens(p.Settings.Model),
	}
}

// Gemini does not issue call ids, so one is generated per function call
func convertFunctionCall(part *genai.Part) types.ToolCall {
	toolCall := types.ToolCall{
		ID:        uuid.New().String(),
		Name:      part.FunctionCall.Name,
		Arguments: part.FunctionCall.Args,
	}

	if toolCall.Arguments == nil {
		toolCall.Arguments = map[string]any{}
	}

	if len(part.ThoughtSignature) > 0 {
		toolCall.Metadata = map[string]any{thoughtSignatureKey: part.ThoughtSignature}
	}

	return toolCall
}

func convertUsage(metadata *genai.GenerateContentResponseUsageMetadata) types.Usage {
	if metadata == nil {
		return types.Usage{}
	}

	return types.Usage{
		PromptTokens:      int(metadata.PromptTokenCount),
		CompletionTokens:  int(metadata.CandidatesTokenCount),
		TotalTokens:       int(metadata.TotalTokenCount),
		CachedInputTokens: int(metadata.CachedContentTokenCount),
	}
}

// convertMessages maps prompt messages to Gemini contents. System messages are
// folded into the system instruction; tool messages become function responses
// named after the tool call they answer.
func convertMessages(messages []types.Message, systemPrompt string) ([]*genai.Content, string) {
	var result []*genai.Content

	systemTexts := []string{}
	if systemPrompt != "" {
		systemTexts = append(systemTexts, systemPrompt)
	}

	calls := map[string]types.ToolCall{}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			systemTexts = append(systemTexts, msg.Text())

		case types.RoleTool:
			call := calls[msg.ToolCallID]

			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     call.Name,
					Response: map[string]any{"result": msg.Text()},
				},
			}

			last := len(result) - 1
			if last >= 0 && result[last].Role == string(genai.RoleUser) && result[last].Parts[0].FunctionResponse != nil {
				result[last].Parts = append(result[last].Parts, part)
				continue
			}

			result = append(result, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{part}})

		default:
			var parts []*genai.Part

			if text := msg.Text(); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}

			for _, tc := range msg.ToolCalls {
				calls[tc.ID] = tc

				part := &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: tc.Name,
						Args: tc.Arguments,
					},
				}
				if sig, ok := tc.Metadata[thoughtSignatureKey].([]byte); ok && len(sig) > 0 {
					part.ThoughtSignature = sig
				}
				parts = append(parts, part)
			}

			if len(parts) == 0 {
				continue
			}

			role := genai.RoleUser
			if msg.Role == types.RoleAssistant {
				role = genai.RoleModel
			}

			result = append(result, &genai.Content{Role: string(role), Parts: parts})
		}
	}

	return result, strings.Join(systemTexts, "\n\n")
}

func convertTools(tools []types.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	var declarations []*genai.FunctionDeclaration
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  convertParametersToSchema(tool.Parameters),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// convertParametersToSchema converts a JSON schema map to genai.Schema
func convertParametersToSchema(params map[string]any) *genai.Schema {
	if params == nil {
		return nil
	}

	schema := &genai.Schema{Type: genai.TypeObject}

	if typeVal, ok := params["type"].(string); ok {
		schema.Type = mapSchemaType(typeVal)
	}

	if desc, ok := params["description"].(string); ok {
		schema.Description = desc
	}

	if props, ok := params["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, propVal := range props {
			if propMap, ok := propVal.(map[string]any); ok {
				schema.Properties[name] = convertParametersToSchema(propMap)
			}
		}
	}

	switch required := params["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, r := range required {
			if str, ok := r.(string); ok {
				schema.Required = append(schema.Required, str)
			}
		}
	}

	if items, ok := params["items"].(map[string]any); ok {
		schema.Items = convertParametersToSchema(items)
	}

	if enumVals, ok := params["enum"].([]any); ok {
		for _, e := range enumVals {
			if str, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, str)
			}
		}
	}

	return schema
}

func mapSchemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func mapFinishReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return types.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return types.FinishReasonContentFilter
	default:
		return types.FinishReasonStop
	}
}

func getMaxOutputTokens(model string) int {
	if strings.HasPrefix(model, "gemini-2.0") {
		return 8192
	}

	return 65536
}
