package router

import "testing"

func TestCostFor_KnownAndFallback(t *testing.T) {
	if got := CostFor("gpt-4o"); got != 0.030 {
		t.Fatalf("gpt-4o cost: %v", got)
	}
	if got := CostFor("totally-unknown-model"); got != DefaultCostUSD {
		t.Fatalf("expected fallback cost %v, got %v", DefaultCostUSD, got)
	}
}

func TestLatencyFor_KnownAndFallback(t *testing.T) {
	if got := LatencyFor("gemini-2.5-flash"); got != 700 {
		t.Fatalf("gemini-2.5-flash latency: %v", got)
	}
	if got := LatencyFor("totally-unknown-model"); got != DefaultLatencyMs {
		t.Fatalf("expected fallback latency %v, got %v", DefaultLatencyMs, got)
	}
}

func TestInferProvider(t *testing.T) {
	cases := []struct {
		model string
		want  Provider
	}{
		{"gpt-4o", ProviderOpenAI},
		{"openai/o3", ProviderOpenAI},
		{"GPT-4O-MINI", ProviderOpenAI},
		{"claude-sonnet-4", ProviderClaude},
		{"anthropic/claude-haiku", ProviderClaude},
		{"gemini-2.5-pro", ProviderGemini},
	}
	for _, c := range cases {
		got, err := InferProvider(c.model)
		if err != nil {
			t.Fatalf("%s: %v", c.model, err)
		}
		if got != c.want {
			t.Fatalf("%s: got %q want %q", c.model, got, c.want)
		}
	}
}

func TestInferProvider_NoFragmentErrors(t *testing.T) {
	if _, err := InferProvider("mistral-large"); err == nil {
		t.Fatalf("expected error for unknown provider fragment")
	}
}

func TestCalculateSavings(t *testing.T) {
	cheap := ModelSelection{Model: "gemini-2.5-flash", EstimatedCost: CostFor("gemini-2.5-flash")}

	// triage not used
	s := CalculateSavings(false, cheap, "gpt-4o")
	if s.Saved != 0 || s.Message == "" {
		t.Fatalf("expected zero saved with message, got %+v", s)
	}

	// router picked a cheaper model
	s = CalculateSavings(true, cheap, "gpt-4o")
	if s.Saved <= 0 {
		t.Fatalf("expected positive saving, got %+v", s)
	}
	wantPct := (0.030 - 0.003) / 0.030 * 100
	if s.SavedPercent < wantPct-0.001 || s.SavedPercent > wantPct+0.001 {
		t.Fatalf("saved percent: got %v want %v", s.SavedPercent, wantPct)
	}

	// router picked a pricier model: never a negative saving
	pricey := ModelSelection{Model: "gpt-4o", EstimatedCost: CostFor("gpt-4o")}
	s = CalculateSavings(true, pricey, "gemini-2.5-flash")
	if s.Saved != 0 || s.SavedPercent != 0 {
		t.Fatalf("expected zero saved for pricier selection, got %+v", s)
	}
	if s.Message != "using optimal model for quality" {
		t.Fatalf("unexpected message: %q", s.Message)
	}

	// no baseline configured
	s = CalculateSavings(true, cheap, SelectedAuto)
	if s.Saved != 0 {
		t.Fatalf("expected zero saved without baseline, got %+v", s)
	}
}
