package ai

import (
	"context"

	"github.com/aetherlab/ai-hub/internal/config"
	"github.com/aetherlab/ai-hub/internal/router"
)

// NewRegistryFromConfig wires one provider factory per entry in the router's
// closed enum. Server and worker share this so they can never disagree on
// which providers are dispatchable.
func NewRegistryFromConfig(cfg config.Config) *Registry {
	reg := NewRegistry()
	reg.Register(router.ProviderOpenAI, func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		return NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, model), nil
	})
	reg.Register(router.ProviderClaude, func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		return NewClaudeProvider(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.AnthropicVersion, model), nil
	})
	reg.Register(router.ProviderGemini, func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		return NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, model), nil
	})
	return reg
}
