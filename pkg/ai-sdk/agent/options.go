package agent

import (
	"time"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/tool"
)

type Option func(*Agent)

func WithModel(m provider.LanguageModel) Option {
	return func(a *Agent) {
		a.Model = m
	}
}

func WithMaxIterations(iterations int) Option {
	return func(a *Agent) {
		a.MaxIterations = iterations
	}
}

func WithTools(tools ...tool.Tool) Option {
	return func(a *Agent) {
		a.Tools = append(a.Tools, tools...)
	}
}

// WithToolTimeout bounds every single tool execution
func WithToolTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		a.ToolTimeout = timeout
	}
}

func WithTemperature(temperature float32) Option {
	return func(a *Agent) {
		a.Temperature = temperature
	}
}

func WithHooks(hooks Hooks) Option {
	return func(a *Agent) {
		a.hooks = hooks
	}
}
