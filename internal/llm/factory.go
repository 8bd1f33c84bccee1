package llm

import (
	"context"
	"fmt"

	"github.com/ashureev/sidekick/internal/config"
)

// New selects the chat model provider from configuration.
func New(ctx context.Context, cfg config.LLMConfig) (ChatModel, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.GoogleAPIKey, cfg.Model)

	case config.ProviderOpenRouter, config.ProviderOpenAI, config.ProviderOllama:
		key := cfg.APIKey()
		if key == "" {
			return nil, fmt.Errorf("missing API key for provider %q", cfg.Provider)
		}
		return NewOpenAI(OpenAIConfig{
			Provider: cfg.Provider,
			APIKey:   key,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
