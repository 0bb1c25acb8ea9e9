package simulation

import "fmt"

// minTimeHorizonYears keeps a degenerate zero-duration request from ever
// reaching the engine.
const minTimeHorizonYears = 0.001

// BuildRequest assembles the engine request from a stage's form state.
//
// Token counts per conviction bucket expand into a flat list named
// "<Conviction> Token <n>". The investment focus collapses to a single
// label: the bucket's name plus " Conviction Only" when exactly one bucket
// is selected, "Mixed" otherwise. The time horizon is converted to years.
//
// carriedOver is included as remaining_amount only for stages after the
// first and only when strictly positive; otherwise the field is omitted
// entirely so the engine's stage-1 behavior is untouched.
func BuildRequest(form FormState, stageIndex int, carriedOver float64) EngineRequest {
	req := EngineRequest{
		CurrentPortfolio:   form.CurrentPortfolio,
		TargetPortfolio:    form.TargetPortfolio,
		TimeHorizon:        horizonYears(form.TimeHorizon, form.TimeUnit),
		MaxLoss:            form.MaxLoss,
		InvestmentFocus:    focusLabel(form.InvestmentFocus),
		Tokens:             expandTokens(form),
		ProfitTakingLevels: clampInt(form.ProfitTakingLevels, MinProfitLevels, MaxProfitLevels),
		Stage:              stageIndex,
	}

	if stageIndex > 1 && carriedOver > 0 {
		req.RemainingAmount = &carriedOver
	}

	return req
}

func expandTokens(form FormState) []TokenRef {
	var tokens []TokenRef
	for _, c := range Convictions {
		if !form.InvestmentFocus[c] {
			continue
		}
		for n := 1; n <= form.NumTokens[c]; n++ {
			tokens = append(tokens, TokenRef{
				Name:       fmt.Sprintf("%s Token %d", c.Label(), n),
				Conviction: c,
			})
		}
	}
	return tokens
}

func focusLabel(focus map[Conviction]bool) string {
	var selected []Conviction
	for _, c := range Convictions {
		if focus[c] {
			selected = append(selected, c)
		}
	}
	if len(selected) == 1 {
		return selected[0].Label() + " Conviction Only"
	}
	return "Mixed"
}

func horizonYears(horizon float64, unit TimeUnit) float64 {
	years := horizon
	switch unit {
	case UnitMonths:
		years = horizon / 12
	case UnitDays:
		years = horizon / 365
	}
	if years < minTimeHorizonYears {
		return minTimeHorizonYears
	}
	return years
}

// ValidateForm checks a stage form before any engine contact. Failures are
// returned as a ValidationError naming the offending field.
func ValidateForm(form FormState) error {
	anyBucket := false
	tokenCount := 0
	for _, c := range Convictions {
		if form.InvestmentFocus[c] {
			anyBucket = true
			tokenCount += form.NumTokens[c]
		}
	}
	if !anyBucket {
		return &ValidationError{Field: "investment_focus", Reason: "select at least one conviction bucket"}
	}
	if tokenCount < 1 {
		return &ValidationError{Field: "num_tokens", Reason: "at least one token is required in the selected buckets"}
	}
	if form.CurrentPortfolio <= 0 {
		return &ValidationError{Field: "current_portfolio", Reason: "must be greater than zero"}
	}
	if form.TargetPortfolio <= 0 {
		return &ValidationError{Field: "target_portfolio", Reason: "must be greater than zero"}
	}
	if form.TimeHorizon <= 0 {
		return &ValidationError{Field: "time_horizon", Reason: "must be greater than zero"}
	}
	if form.MaxLoss <= 0 {
		return &ValidationError{Field: "max_loss", Reason: "must be greater than zero"}
	}
	// Target below current is constrained by the form inputs, not rejected
	// here: a stage seeded above its inherited target is still submittable.
	return nil
}
