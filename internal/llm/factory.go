package llm

import (
	"fmt"
	"strings"

	"slackmind/internal/config"
)

// NewProvider creates an LLM provider from config.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "google":
		return NewGeminiProvider(cfg.APIKey, cfg.Model, cfg.MaxRetries), nil
	case "openai", "openrouter", "local":
		return NewOpenAIProvider(OpenAIConfig{
			Name:       strings.ToLower(cfg.Provider),
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
		}), nil
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}
}

// NewProviderWithFallback builds the primary provider and, when fallback is
// set, chains a secondary one behind it.
func NewProviderWithFallback(primary config.LLMConfig, fallback *config.LLMConfig) (Provider, error) {
	p, err := NewProvider(primary)
	if err != nil {
		return nil, err
	}
	if fallback == nil || fallback.Provider == "" {
		return p, nil
	}
	f, err := NewProvider(*fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	return NewFallbackProvider(p, f), nil
}
