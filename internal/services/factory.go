package services

import (
	"fmt"
	"log/slog"

	"github.com/indraastra/iffy-sub000/internal/config"
	"github.com/indraastra/iffy-sub000/pkg/llm"
)

// NewModel constructs the configured language model. An empty provider
// returns nil, which downstream components treat as offline mode.
func NewModel(cfg *config.Config, logger *slog.Logger) (llm.LanguageModel, error) {
	switch cfg.LLMProvider {
	case "":
		logger.Warn("No LLM provider configured, running without a language model")
		return nil, nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return NewAnthropicModel(cfg.AnthropicAPIKey, cfg.ModelName, cfg.CostModelName, logger), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIModel(cfg.OpenAIAPIKey, cfg.ModelName, cfg.CostModelName, cfg.OpenAIBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}
}
