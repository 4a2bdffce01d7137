package router

// Savings reports how much smart routing saved against the model the user had
// configured manually.
type Savings struct {
	Saved        float64 `json:"saved"`
	SavedPercent float64 `json:"saved_percent"`
	Message      string  `json:"message"`
}

// CalculateSavings compares the routed selection against the user's configured
// model. A negative saving is never reported as a cost increase; picking a
// pricier model means routing chose quality over cost.
func CalculateSavings(usedTriage bool, sel ModelSelection, userModel string) Savings {
	if !usedTriage {
		return Savings{Message: "smart routing was not used for this query"}
	}
	if userModel == "" || userModel == SelectedAuto || userModel == SelectedUserChoiceOnly {
		return Savings{Message: "no baseline model configured"}
	}

	baseline := CostFor(userModel)
	saved := baseline - sel.EstimatedCost
	if saved <= 0 {
		return Savings{Message: "using optimal model for quality"}
	}

	return Savings{
		Saved:        saved,
		SavedPercent: saved / baseline * 100,
		Message:      "smart routing selected a cheaper model",
	}
}
