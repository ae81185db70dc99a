package anthropic

import (
	"log/slog"

	"github.com/tjfontaine/threadsketch/internal/config"
)

// CreateFromConfig creates a new Anthropic provider from configuration.
func CreateFromConfig(cfg config.AnthropicConfig, logger *slog.Logger) *Provider {
	opts := []ProviderOption{
		WithModel(cfg.Model),
		WithMaxTokens(cfg.MaxTokens),
		WithPromptBudget(cfg.MaxPromptTokens),
		WithTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	return New(cfg.APIKey, opts...)
}
