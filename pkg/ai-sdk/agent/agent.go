package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/tool"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/types"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxIterations = 10

	// StoppedOutput is returned when the iteration budget runs out before the
	// model produced any text of its own
	StoppedOutput = "Agent stopped due to max iterations."
)

// Agent runs the tool-calling completion loop: the model is streamed, the
// requested tools are executed and their results fed back until the model
// answers without tool calls or the iteration budget is exhausted.
type Agent struct {
	Model         provider.LanguageModel
	Tools         []tool.Tool
	MaxIterations int
	ToolTimeout   time.Duration
	Temperature   float32

	hooks Hooks
}

type Hooks struct {
	// OnBeforeGenerate may rewrite the request. Returning an error aborts the run.
	OnBeforeGenerate   func(ctx context.Context, req *provider.GenerateRequest) error
	OnGenerationFailed func(ctx context.Context, req *provider.GenerateRequest, err error)

	// OnTextDelta receives streamed text. It runs on the reading goroutine.
	OnTextDelta func(delta string)

	OnStepStart    func(ctx context.Context, step *Step)
	OnStepComplete func(ctx context.Context, step *Step)
}

func New(opts ...Option) (*Agent, error) {
	agent := &Agent{}

	for _, opt := range opts {
		opt(agent)
	}

	if agent.Model == nil {
		return nil, errors.New("model is required")
	}

	if agent.MaxIterations <= 0 {
		agent.MaxIterations = DefaultMaxIterations
	}

	return agent, nil
}

// RunRequest is the input of one run. System becomes the leading system
// message, followed by History and the Input as the newest user message.
type RunRequest struct {
	System  string
	History []types.Message
	Input   string
}

type Result struct {
	Output       string
	Steps        []*Step
	Scratchpad   []types.Message
	TotalUsage   types.Usage
	FinishReason string
}

type Step struct {
	StepNumber   int                `json:"step_number"`
	Content      string             `json:"content"`
	ToolCalls    []types.ToolCall   `json:"tool_calls"`
	ToolResults  []types.ToolResult `json:"tool_results"`
	Usage        types.Usage        `json:"usage"`
	FinishReason string             `json:"finish_reason"`
}

func (a *Agent) Run(ctx context.Context, req RunRequest) (Result, error) {
	prompt := make([]types.Message, 0, len(req.History)+2)

	if req.System != "" {
		prompt = append(prompt, types.NewSystemMessage(req.System))
	}

	prompt = append(prompt, req.History...)
	prompt = append(prompt, types.NewUserMessage(req.Input))

	tools := make([]types.Tool, 0, len(a.Tools))
	for _, t := range a.Tools {
		tools = append(tools, tool.ToTypesTool(t))
	}

	result := Result{}

	for stepNumber := 1; stepNumber <= a.MaxIterations; stepNumber++ {
		step := &Step{StepNumber: stepNumber}
		result.Steps = append(result.Steps, step)

		if a.hooks.OnStepStart != nil {
			a.hooks.OnStepStart(ctx, step)
		}

		messages := make([]types.Message, 0, len(prompt)+len(result.Scratchpad))
		messages = append(messages, prompt...)
		messages = append(messages, result.Scratchpad...)

		genReq := provider.GenerateRequest{
			Messages:    messages,
			Tools:       tools,
			Temperature: a.Temperature,
		}

		if a.hooks.OnBeforeGenerate != nil {
			if err := a.hooks.OnBeforeGenerate(ctx, &genReq); err != nil {
				return result, err
			}
		}

		if err := a.generate(ctx, genReq, step); err != nil {
			result.FinishReason = types.FinishReasonError

			if a.hooks.OnGenerationFailed != nil {
				a.hooks.OnGenerationFailed(ctx, &genReq, err)
			}

			return result, err
		}

		result.TotalUsage = result.TotalUsage.Add(step.Usage)
		result.Scratchpad = append(result.Scratchpad, types.NewAssistantMessage(step.Content, step.ToolCalls...))

		if len(step.ToolCalls) == 0 {
			if a.hooks.OnStepComplete != nil {
				a.hooks.OnStepComplete(ctx, step)
			}

			result.Output = step.Content
			result.FinishReason = types.FinishReasonStop

			return result, nil
		}

		for _, toolCall := range step.ToolCalls {
			toolResult := a.executeTool(ctx, toolCall)

			step.ToolResults = append(step.ToolResults, toolResult)
			result.Scratchpad = append(result.Scratchpad, types.NewToolMessage(toolResult.ToolCallID, toolResult.Content))

			if err := ctx.Err(); err != nil {
				result.FinishReason = types.FinishReasonCanceled
				return result, err
			}
		}

		if a.hooks.OnStepComplete != nil {
			a.hooks.OnStepComplete(ctx, step)
		}
	}

	log.Warn().Int("max_iterations", a.MaxIterations).Msg("Agent stopped due to max iterations")

	result.FinishReason = types.FinishReasonMaxIterations
	result.Output = StoppedOutput

	if last := result.Steps[len(result.Steps)-1]; strings.TrimSpace(last.Content) != "" {
		result.Output = last.Content
	}

	return result, nil
}

func (a *Agent) generate(ctx context.Context, req provider.GenerateRequest, step *Step) error {
	stream, err := a.Model.Stream(ctx, req)
	if err != nil {
		return err
	}

	for event := range stream.Events {
		switch e := event.(type) {
		case *types.TextDeltaEvent:
			step.Content += e.Delta

			if a.hooks.OnTextDelta != nil {
				a.hooks.OnTextDelta(e.Delta)
			}
		case *types.ToolCallCompleteEvent:
			step.ToolCalls = append(step.ToolCalls, e.ToolCall)
		case *types.UsageEvent:
			step.Usage = e.Usage
		case *types.FinishReasonEvent:
			step.FinishReason = e.Reason
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return stream.Err()
}

func (a *Agent) executeTool(ctx context.Context, toolCall types.ToolCall) types.ToolResult {
	t, exists := a.GetTool(toolCall.Name)
	if !exists {
		return types.ToolResult{
			ToolCallID: toolCall.ID,
			Content:    fmt.Sprintf("%s is not a valid tool, try one of [%s].", toolCall.Name, strings.Join(a.toolNames(), ", ")),
			IsError:    true,
		}
	}

	argsJSON, err := json.Marshal(toolCall.Arguments)
	if err != nil {
		return types.ToolResult{
			ToolCallID: toolCall.ID,
			Content:    fmt.Sprintf("Error: failed to marshal tool call arguments: %v", err),
			IsError:    true,
		}
	}

	toolCtx := ctx
	if a.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, a.ToolTimeout)
		defer cancel()
	}

	content, err := t.Execute(toolCtx, string(argsJSON))
	if err != nil {
		return types.ToolResult{
			ToolCallID: toolCall.ID,
			Content:    fmt.Sprintf("Error: %v", err),
			IsError:    true,
		}
	}

	return types.ToolResult{
		ToolCallID: toolCall.ID,
		Content:    content,
	}
}

func (a *Agent) GetTool(toolName string) (tool.Tool, bool) {
	for _, t := range a.Tools {
		if t.Name() == toolName {
			return t, true
		}
	}

	return nil, false
}

func (a *Agent) toolNames() []string {
	names := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		names = append(names, t.Name())
	}

	return names
}
