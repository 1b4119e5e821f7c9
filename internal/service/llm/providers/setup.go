// Package providers wires the concrete LLM adapters into a registry.
// It sits above both the llm interface package and the adapter packages,
// keeping the interface free of adapter imports.
package providers

import (
	"fmt"
	"log/slog"

	"github.com/zzxtbeta/rag-demo/internal/config"
	"github.com/zzxtbeta/rag-demo/internal/service/llm"
	"github.com/zzxtbeta/rag-demo/internal/service/llm/providers/anthropic"
	"github.com/zzxtbeta/rag-demo/internal/service/llm/providers/lorem"
)

// Setup builds the provider registry from configuration.
//
// Anthropic is registered when an API key is present; the lorem provider is
// always registered last so "lorem-*" models work in every environment.
func Setup(cfg *config.Config, logger *slog.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if cfg.AnthropicAPIKey != "" {
		provider, err := anthropic.NewProvider(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
		}
		registry.Register(provider)
		logger.Info("provider available", "name", "anthropic", "models", "claude-*")
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set - Anthropic provider not available")
	}

	registry.Register(lorem.NewProvider())
	logger.Info("provider available", "name", "lorem", "models", "lorem-*")

	return registry, nil
}
