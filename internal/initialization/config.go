package initialization

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	ProviderDeepSeek  = "deepseek"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "google"
)

// Config holds all agent configuration
type Config struct {
	AgentEnable bool

	// Completion service
	Provider         string
	Model            string
	APIKey           string
	BaseURL          string
	MaxContextTokens int
	Temperature      float32
	MaxIterations    int
	ToolTimeout      int
	Verbose          bool

	// Conversation memory
	MaxMemoryMessages        int
	MemoryRetentionDays      int
	RedisMemoryRetentionDays int
	CacheBackendType         string
	CacheBackendURL          string

	// HTTP surface
	HTTPAddress string
	APIToken    string
	SecretKey   string

	PluginToolsDir string
}

func (c *Config) ToolTimeoutDuration() time.Duration {
	return time.Duration(c.ToolTimeout) * time.Second
}

// LoadConfig loads configuration from files and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"AgentEnable":              "AI_AGENT_ENABLE",
		"Provider":                 "LLM_PROVIDER",
		"Model":                    "LLM_MODEL",
		"APIKey":                   "LLM_API_KEY",
		"BaseURL":                  "LLM_BASE_URL",
		"MaxContextTokens":         "LLM_MAX_CONTEXT_TOKENS",
		"Temperature":              "LLM_TEMPERATURE",
		"MaxIterations":            "LLM_MAX_ITERATIONS",
		"ToolTimeout":              "LLM_TOOL_TIMEOUT",
		"Verbose":                  "LLM_VERBOSE",
		"MaxMemoryMessages":        "LLM_MAX_MEMORY_MESSAGES",
		"MemoryRetentionDays":      "LLM_MEMORY_RETENTION_DAYS",
		"RedisMemoryRetentionDays": "LLM_REDIS_MEMORY_RETENTION_DAYS",
		"CacheBackendType":         "CACHE_BACKEND_TYPE",
		"CacheBackendURL":          "CACHE_BACKEND_URL",
		"HTTPAddress":              "HTTP_ADDRESS",
		"APIToken":                 "API_TOKEN",
		"SecretKey":                "SECRET_KEY",
		"PluginToolsDir":           "PLUGIN_TOOLS_DIR",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("mpagent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.mpagent")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	config.Provider = strings.ToLower(strings.TrimSpace(config.Provider))
	config.CacheBackendType = strings.ToLower(strings.TrimSpace(config.CacheBackendType))

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", config.Provider).
		Str("model", config.Model).
		Str("cache_backend", config.CacheBackendType).
		Msg("Config loaded")

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AgentEnable", false)

	v.SetDefault("Provider", ProviderDeepSeek)
	v.SetDefault("Model", "deepseek-chat")
	v.SetDefault("BaseURL", "https://api.deepseek.com")
	v.SetDefault("MaxContextTokens", 64)
	v.SetDefault("Temperature", 0.1)
	v.SetDefault("MaxIterations", 128)
	v.SetDefault("ToolTimeout", 300)
	v.SetDefault("Verbose", false)

	v.SetDefault("MaxMemoryMessages", 30)
	v.SetDefault("MemoryRetentionDays", 1)
	v.SetDefault("RedisMemoryRetentionDays", 7)
	v.SetDefault("CacheBackendType", cache.TypeMemory)

	v.SetDefault("HTTPAddress", ":3001")
	v.SetDefault("PluginToolsDir", "./plugins")
}

func validateConfig(config *Config) error {
	var problems []string

	switch config.Provider {
	case ProviderDeepSeek, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		problems = append(problems, fmt.Sprintf("LLM_PROVIDER %q is not one of deepseek, openai, anthropic, google", config.Provider))
	}

	switch config.CacheBackendType {
	case cache.TypeMemory, cache.TypeRedis, cache.TypeMongoDB, cache.TypePostgreSQL, cache.TypeSQLite:
	default:
		problems = append(problems, fmt.Sprintf("CACHE_BACKEND_TYPE %q is not supported", config.CacheBackendType))
	}

	if config.CacheBackendType != cache.TypeMemory && config.CacheBackendType != cache.TypeSQLite && config.CacheBackendURL == "" {
		problems = append(problems, "CACHE_BACKEND_URL is required for "+config.CacheBackendType)
	}

	if config.MaxContextTokens <= 0 {
		problems = append(problems, "LLM_MAX_CONTEXT_TOKENS must be positive")
	}

	if config.MaxIterations <= 0 {
		problems = append(problems, "LLM_MAX_ITERATIONS must be positive")
	}

	if config.MaxMemoryMessages <= 0 {
		problems = append(problems, "LLM_MAX_MEMORY_MESSAGES must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
