package initialization

import (
	"context"
	"errors"
	"fmt"

	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider/anthropic"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider/gemini"
	"github.com/moviepilot/mpagent/pkg/ai-sdk/provider/openai"
)

const (
	DefaultDeepSeekBaseURL = "https://api.deepseek.com"
	defaultMaxOutputTokens = 4096
)

var ErrMissingAPIKey = errors.New("LLM_API_KEY is required")

// NewLanguageModel builds the completion service selected by LLM_PROVIDER.
// DeepSeek speaks the OpenAI protocol.
func NewLanguageModel(ctx context.Context, config *Config) (provider.LanguageModel, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	settings := provider.Settings{
		Model:       config.Model,
		Temperature: config.Temperature,
		MaxTokens:   defaultMaxOutputTokens,
	}

	// the default base url points at DeepSeek and only applies there
	baseURL := config.BaseURL
	if config.Provider != ProviderDeepSeek && baseURL == DefaultDeepSeekBaseURL {
		baseURL = ""
	}

	switch config.Provider {
	case ProviderDeepSeek, ProviderOpenAI:
		return openai.NewWithConfig(openai.Config{
			APIKey:   config.APIKey,
			BaseURL:  baseURL,
			Name:     config.Provider,
			Settings: settings,
		}), nil
	case ProviderAnthropic:
		return anthropic.NewWithConfig(anthropic.Config{
			APIKey:            config.APIKey,
			BaseURL:           baseURL,
			CacheSystemPrompt: true,
			Settings:          settings,
		}), nil
	case ProviderGemini:
		model, err := gemini.NewWithSettings(ctx, config.APIKey, settings)
		if err != nil {
			return nil, err
		}
		return model, nil
	}

	return nil, fmt.Errorf("unsupported provider %q", config.Provider)
}
