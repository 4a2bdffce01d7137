// Package router picks a concrete model for a user query from the triage
// classification and the user's own configuration. Selection is a pure
// function: no I/O, no state, deterministic for identical inputs.
package router

import "fmt"

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// TriageResult is produced by the external classification step.
type TriageResult struct {
	Domain         string     `json:"domain"`
	Complexity     Complexity `json:"complexity"`
	Urgency        Urgency    `json:"urgency"`
	RequiresVision bool       `json:"requires_vision"`
	SuggestedModel string     `json:"suggested_model"`
}

// Mode governs whether the user's explicit model choice is authoritative.
type Mode string

const (
	ModeSingle  Mode = "single"
	ModeMulti   Mode = "multi"
	ModeDefault Mode = "default"
)

// Sentinel values for UserConfig.SelectedModel.
const (
	SelectedAuto           = "auto"
	SelectedUserChoiceOnly = "user-choice-only"
)

type UserConfig struct {
	Mode          Mode   `json:"mode"`
	SelectedModel string `json:"selected_model"`
}

// concreteModel reports whether the user actually named a model rather than a
// sentinel.
func (c UserConfig) concreteModel() bool {
	switch c.SelectedModel {
	case "", SelectedAuto, SelectedUserChoiceOnly:
		return false
	}
	return true
}

type ModelSelection struct {
	Model              string   `json:"model"`
	Provider           Provider `json:"provider"`
	Reasoning          string   `json:"reasoning"`
	EstimatedCost      float64  `json:"estimated_cost"`
	EstimatedLatencyMs int      `json:"estimated_latency_ms"`
	UsedTriage         bool     `json:"used_triage"`
}

// SelectModel resolves which model to call. Rules are an ordered priority
// list; the first match wins:
//
//  1. single mode with a concrete user model — never overridden
//  2. smart routing off (or user-choice-only) — prefer user model
//  3. critical urgency — flagship, vision flagship if image input
//  4. default/multi mode — triage suggestion
//  5. fallback — user model if set, else triage suggestion
func SelectModel(triage TriageResult, cfg UserConfig, smartRoutingEnabled bool) (ModelSelection, error) {
	model, reasoning, usedTriage := resolve(triage, cfg, smartRoutingEnabled)

	provider, err := InferProvider(model)
	if err != nil {
		return ModelSelection{}, err
	}

	return ModelSelection{
		Model:              model,
		Provider:           provider,
		Reasoning:          reasoning,
		EstimatedCost:      CostFor(model),
		EstimatedLatencyMs: LatencyFor(model),
		UsedTriage:         usedTriage,
	}, nil
}

func resolve(triage TriageResult, cfg UserConfig, smartRoutingEnabled bool) (model, reasoning string, usedTriage bool) {
	// Rule 1: explicit pin. A user who picks a model in single mode is never
	// second-guessed, not even for critical urgency.
	if cfg.Mode == ModeSingle && cfg.concreteModel() {
		return cfg.SelectedModel,
			fmt.Sprintf("user pinned %s in single mode", cfg.SelectedModel),
			false
	}

	// Rule 2: smart routing disabled, or user opted out of routing entirely.
	if !smartRoutingEnabled || cfg.SelectedModel == SelectedUserChoiceOnly {
		if cfg.concreteModel() {
			return cfg.SelectedModel,
				fmt.Sprintf("smart routing off, using user model %s", cfg.SelectedModel),
				false
		}
		return triage.SuggestedModel,
			fmt.Sprintf("smart routing off, no user model, using triage suggestion %s", triage.SuggestedModel),
			true
	}

	// Rule 3: critical urgency overrides preference.
	if triage.Urgency == UrgencyCritical {
		if triage.RequiresVision {
			return FlagshipVision,
				fmt.Sprintf("critical urgency in %s domain with image input, escalating to %s", triage.Domain, FlagshipVision),
				true
		}
		return FlagshipText,
			fmt.Sprintf("critical urgency in %s domain, escalating to %s", triage.Domain, FlagshipText),
			true
	}

	switch cfg.Mode {
	case ModeDefault, ModeMulti:
		// Rule 4: triage already folded in complexity and domain.
		return triage.SuggestedModel,
			fmt.Sprintf("%s mode, %s complexity %s query, following triage suggestion %s",
				cfg.Mode, triage.Complexity, triage.Domain, triage.SuggestedModel),
			true
	case ModeSingle:
		// single mode without a concrete model falls through to rule 5
	}

	// Rule 5: fallback by preference order.
	if cfg.concreteModel() {
		return cfg.SelectedModel,
			fmt.Sprintf("falling back to user model %s", cfg.SelectedModel),
			false
	}
	return triage.SuggestedModel,
		fmt.Sprintf("falling back to triage suggestion %s", triage.SuggestedModel),
		true
}
