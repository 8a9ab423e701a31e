package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config holds all environment-driven settings for the API server.
type Config struct {
	Port        string
	Environment string
	LogLevel    slog.Level

	// LLM backend. An empty provider leaves the engine unconfigured; it
	// then fails open with an instructional message instead of erroring.
	LLMProvider     string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	ModelName       string // quality tier, used for narration
	CostModelName   string // cheap tier, used for classification and compaction

	RedisURL string
	DataDir  string
}

// Load reads configuration from the environment. A malformed value is an
// error rather than a silent default.
func Load() (*Config, error) {
	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        level,
		LLMProvider:     getEnv("LLM_PROVIDER", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		ModelName:       getEnv("MODEL_NAME", ""),
		CostModelName:   getEnv("COST_MODEL_NAME", ""),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		DataDir:         getEnv("DATA_DIR", "./data"),
	}, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", level)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
