package router

import (
	"fmt"
	"strings"
)

// Provider is the closed set of upstream APIs we can dispatch to.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
)

const (
	// FlagshipText is selected for critical-urgency text queries.
	FlagshipText = "claude-sonnet-4"
	// FlagshipVision is selected for critical-urgency queries with image input.
	FlagshipVision = "gpt-4o"

	// Fallback estimates for models missing from the tables. New models still
	// get a usable estimate; an unknown provider never does (see InferProvider).
	DefaultCostUSD   = 0.01
	DefaultLatencyMs = 1500
)

// Per-query cost estimates in USD, keyed by exact model id.
var modelCosts = map[string]float64{
	"gpt-4o":           0.030,
	"gpt-4o-mini":      0.002,
	"claude-sonnet-4":  0.025,
	"claude-haiku-3.5": 0.004,
	"gemini-2.5-pro":   0.020,
	"gemini-2.5-flash": 0.003,
}

// Typical end-to-end latency in milliseconds, keyed by exact model id.
var modelLatencies = map[string]int{
	"gpt-4o":           2000,
	"gpt-4o-mini":      800,
	"claude-sonnet-4":  2200,
	"claude-haiku-3.5": 900,
	"gemini-2.5-pro":   1800,
	"gemini-2.5-flash": 700,
}

// CostFor returns the estimated per-query cost for a model. Unknown models get
// DefaultCostUSD; this is an estimate, not a routing decision, so a miss is fine.
func CostFor(model string) float64 {
	if c, ok := modelCosts[model]; ok {
		return c
	}
	return DefaultCostUSD
}

// LatencyFor returns the estimated latency in milliseconds for a model,
// falling back to DefaultLatencyMs for unknown models.
func LatencyFor(model string) int {
	if l, ok := modelLatencies[model]; ok {
		return l
	}
	return DefaultLatencyMs
}

// InferProvider maps a model id to its provider by fragment match. Unlike the
// cost/latency tables there is no fallback: dispatching to the wrong provider's
// API is a hard failure, so an unrecognized id is an error.
func InferProvider(model string) (Provider, error) {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt") || strings.Contains(m, "openai"):
		return ProviderOpenAI, nil
	case strings.Contains(m, "claude") || strings.Contains(m, "anthropic"):
		return ProviderClaude, nil
	case strings.Contains(m, "gemini"):
		return ProviderGemini, nil
	}
	return "", fmt.Errorf("router: cannot infer provider for model %q", model)
}
