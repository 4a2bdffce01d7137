package router

import (
	"strings"
	"testing"
)

func TestSelectModel_SingleModePinNeverOverridden(t *testing.T) {
	triage := TriageResult{
		Domain:         "healthcare",
		Complexity:     ComplexityHigh,
		Urgency:        UrgencyCritical,
		RequiresVision: true,
		SuggestedModel: "gemini-2.5-pro",
	}
	cfg := UserConfig{Mode: ModeSingle, SelectedModel: "gpt-4o-mini"}

	sel, err := SelectModel(triage, cfg, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != "gpt-4o-mini" {
		t.Fatalf("pin overridden: got %q", sel.Model)
	}
	if sel.UsedTriage {
		t.Fatalf("expected usedTriage=false for pinned model")
	}
	if sel.Provider != ProviderOpenAI {
		t.Fatalf("unexpected provider: %q", sel.Provider)
	}
}

func TestSelectModel_SingleModeAutoIsNotAPin(t *testing.T) {
	triage := TriageResult{Urgency: UrgencyNormal, SuggestedModel: "gemini-2.5-flash"}
	cfg := UserConfig{Mode: ModeSingle, SelectedModel: SelectedAuto}

	sel, err := SelectModel(triage, cfg, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != "gemini-2.5-flash" {
		t.Fatalf("expected triage suggestion, got %q", sel.Model)
	}
	if !sel.UsedTriage {
		t.Fatalf("expected usedTriage=true")
	}
}

func TestSelectModel_SmartRoutingDisabled(t *testing.T) {
	triage := TriageResult{Urgency: UrgencyCritical, SuggestedModel: "gemini-2.5-pro"}

	// user model present: honor it, critical urgency notwithstanding
	cfg := UserConfig{Mode: ModeDefault, SelectedModel: "claude-haiku-3.5"}
	sel, err := SelectModel(triage, cfg, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != "claude-haiku-3.5" || sel.UsedTriage {
		t.Fatalf("got model=%q usedTriage=%v", sel.Model, sel.UsedTriage)
	}

	// no user model: fall back to triage suggestion
	cfg = UserConfig{Mode: ModeDefault}
	sel, err = SelectModel(triage, cfg, false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != "gemini-2.5-pro" || !sel.UsedTriage {
		t.Fatalf("got model=%q usedTriage=%v", sel.Model, sel.UsedTriage)
	}
}

func TestSelectModel_UserChoiceOnlySkipsRouting(t *testing.T) {
	triage := TriageResult{Urgency: UrgencyCritical, SuggestedModel: "gemini-2.5-pro"}
	cfg := UserConfig{Mode: ModeDefault, SelectedModel: SelectedUserChoiceOnly}

	sel, err := SelectModel(triage, cfg, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	// sentinel is not a concrete model, so the triage suggestion applies
	if sel.Model != "gemini-2.5-pro" || !sel.UsedTriage {
		t.Fatalf("got model=%q usedTriage=%v", sel.Model, sel.UsedTriage)
	}
}

func TestSelectModel_CriticalUrgencyOverride(t *testing.T) {
	triage := TriageResult{
		Domain:         "healthcare",
		Urgency:        UrgencyCritical,
		SuggestedModel: "gemini-2.5-flash",
	}

	for _, mode := range []Mode{ModeDefault, ModeMulti, ModeSingle} {
		cfg := UserConfig{Mode: mode, SelectedModel: SelectedAuto}

		sel, err := SelectModel(triage, cfg, true)
		if err != nil {
			t.Fatalf("mode=%s select: %v", mode, err)
		}
		if sel.Model != FlagshipText {
			t.Fatalf("mode=%s expected %s, got %q", mode, FlagshipText, sel.Model)
		}
		if !sel.UsedTriage {
			t.Fatalf("mode=%s expected usedTriage=true", mode)
		}
	}

	triage.RequiresVision = true
	sel, err := SelectModel(triage, UserConfig{Mode: ModeDefault}, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != FlagshipVision {
		t.Fatalf("expected vision flagship %s, got %q", FlagshipVision, sel.Model)
	}
}

func TestSelectModel_DefaultModeFollowsTriage(t *testing.T) {
	triage := TriageResult{
		Domain:         "healthcare",
		Complexity:     ComplexityHigh,
		Urgency:        UrgencyNormal,
		SuggestedModel: "gemini-2.5-pro",
	}
	cfg := UserConfig{Mode: ModeDefault, SelectedModel: ""}

	sel, err := SelectModel(triage, cfg, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != "gemini-2.5-pro" {
		t.Fatalf("expected gemini-2.5-pro, got %q", sel.Model)
	}
	if !sel.UsedTriage {
		t.Fatalf("expected usedTriage=true")
	}
	if sel.Provider != ProviderGemini {
		t.Fatalf("unexpected provider: %q", sel.Provider)
	}
}

func TestSelectModel_MultiModeIgnoresUserModel(t *testing.T) {
	triage := TriageResult{Urgency: UrgencyNormal, SuggestedModel: "gpt-4o-mini"}
	cfg := UserConfig{Mode: ModeMulti, SelectedModel: "claude-sonnet-4"}

	sel, err := SelectModel(triage, cfg, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Model != "gpt-4o-mini" || !sel.UsedTriage {
		t.Fatalf("got model=%q usedTriage=%v", sel.Model, sel.UsedTriage)
	}
}

func TestSelectModel_UnknownProviderFails(t *testing.T) {
	triage := TriageResult{Urgency: UrgencyNormal, SuggestedModel: "llama3:latest"}
	cfg := UserConfig{Mode: ModeDefault}

	_, err := SelectModel(triage, cfg, true)
	if err == nil {
		t.Fatalf("expected provider inference error")
	}
	if !strings.Contains(err.Error(), "llama3") {
		t.Fatalf("error should name the model: %v", err)
	}
}

func TestSelectModel_ReasoningIsPopulated(t *testing.T) {
	triage := TriageResult{Domain: "technology", Urgency: UrgencyNormal, SuggestedModel: "gpt-4o"}
	sel, err := SelectModel(triage, UserConfig{Mode: ModeDefault}, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Reasoning == "" {
		t.Fatalf("expected a reasoning string")
	}
}
