package llm

import (
	"fmt"

	"github.com/cookieclicker123/tanooki-copilot/pkg/config"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// New builds the generator selected by cfg.Provider, wrapped in Retrying
// when retries are enabled.
func New(cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	var gen Generator
	switch cfg.Provider {
	case ProviderOllama:
		gen = NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Timeout, logger)
	case ProviderOpenAI, ProviderGroq:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: api key required for provider %s", cfg.Provider)
		}
		baseURL := cfg.BaseURL
		if baseURL == config.DefaultOllamaURL {
			baseURL = ""
		}
		client := openai.NewClientWithConfig(NewOpenAIConfig(cfg.Provider, cfg.APIKey, baseURL))
		gen = NewOpenAIClient(client, cfg.Provider, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
	case ProviderMock:
		gen = NewMockClient(cfg.Model, 0, 0)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}

	if cfg.MaxRetries > 0 {
		gen = NewRetrying(gen, cfg.MaxRetries, cfg.InitialBackoff, logger)
	}
	return gen, nil
}
