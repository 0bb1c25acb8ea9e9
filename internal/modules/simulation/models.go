package simulation

import "context"

// Conviction identifies one of the three allocation buckets.
type Conviction string

const (
	ConvictionHigh   Conviction = "high"
	ConvictionMedium Conviction = "medium"
	ConvictionLow    Conviction = "low"
)

// Convictions lists the buckets in display order.
var Convictions = []Conviction{ConvictionHigh, ConvictionMedium, ConvictionLow}

// Label returns the capitalized display name of the bucket.
func (c Conviction) Label() string {
	switch c {
	case ConvictionHigh:
		return "High"
	case ConvictionMedium:
		return "Medium"
	case ConvictionLow:
		return "Low"
	}
	return string(c)
}

// TimeUnit is the denomination of the time-horizon form field.
type TimeUnit string

const (
	UnitDays   TimeUnit = "days"
	UnitMonths TimeUnit = "months"
	UnitYears  TimeUnit = "years"
)

// TokenPosition is a simulated holding within one stage.
type TokenPosition struct {
	Name         string     `json:"name"`
	Conviction   Conviction `json:"conviction"`
	PositionSize float64    `json:"position_size"`
}

// TokenRef identifies a token in the engine request payload.
type TokenRef struct {
	Name       string     `json:"name"`
	Conviction Conviction `json:"conviction"`
}

// BaselineExit holds the engine's suggested exit percentages for a token.
// Values are percent units (15 means 15%).
type BaselineExit struct {
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// AllocationResult is the engine's answer for one stage. It is immutable
// once attached to a stage.
type AllocationResult struct {
	RequiredCAGR        float64                 `json:"required_cagr"`
	RecommendedStrategy string                  `json:"recommended_strategy"`
	Allocations         map[Conviction]float64  `json:"allocations"`
	PositionSizes       []TokenPosition         `json:"position_sizes"`
	StopLossTakeProfit  map[string]BaselineExit `json:"stop_loss_take_profit"`
	Summary             string                  `json:"summary"`
}

// EngineRequest is the payload sent to the external allocation engine.
type EngineRequest struct {
	CurrentPortfolio   float64    `json:"current_portfolio"`
	TargetPortfolio    float64    `json:"target_portfolio"`
	TimeHorizon        float64    `json:"time_horizon"` // years
	MaxLoss            float64    `json:"max_loss"`
	InvestmentFocus    string     `json:"investment_focus"`
	Tokens             []TokenRef `json:"tokens"`
	ProfitTakingLevels int        `json:"profit_taking_levels"`
	Stage              int        `json:"stage"`
	RemainingAmount    *float64   `json:"remaining_amount,omitempty"`
}

// Suggester is the external allocation engine, treated as an opaque function.
type Suggester interface {
	Suggest(ctx context.Context, req EngineRequest) (*AllocationResult, error)
}

// FormState is the wizard form for one stage, as entered by the user.
// Percent-valued fields use percent units (0-100).
type FormState struct {
	CurrentPortfolio   float64             `json:"current_portfolio"`
	TargetPortfolio    float64             `json:"target_portfolio"`
	TimeHorizon        float64             `json:"time_horizon"`
	TimeUnit           TimeUnit            `json:"time_unit"`
	MaxLoss            float64             `json:"max_loss"`
	InvestmentFocus    map[Conviction]bool `json:"investment_focus"`
	NumTokens          map[Conviction]int  `json:"num_tokens"`
	ProfitTakingLevels int                 `json:"profit_taking_levels"`
}

// CustomLevelConfig is a per-token override of the baseline exit derivation.
type CustomLevelConfig struct {
	Enabled     bool    `json:"enabled"`
	StopLossPct float64 `json:"stop_loss_pct"` // percent units, clamped to [0,100]
	LevelCount  int     `json:"level_count"`   // clamped to [1,5]
}

// StageStatus tracks a stage through its lifecycle.
type StageStatus string

const (
	StageAwaitingSubmission StageStatus = "awaiting_submission"
	StageAwaitingEngine     StageStatus = "awaiting_engine_response"
	StageResultReady        StageStatus = "result_ready"
)

// Stage is one round of the staged reallocation workflow. Stage 1 is seeded
// with the user-entered portfolio value; later stages are seeded with the
// capital realized at the end of the previous stage.
type Stage struct {
	Index       int               `json:"index"` // 1-based
	SeedCapital float64           `json:"seed_capital"`
	MinTarget   float64           `json:"min_target,omitempty"`
	Status      StageStatus       `json:"status"`
	Form        *FormState        `json:"form,omitempty"`
	Result      *AllocationResult `json:"result,omitempty"`

	// Derived per-token exit levels, rebuilt whenever the result or a
	// custom override changes. Keyed by token name.
	Levels map[string]TokenLevels `json:"levels,omitempty"`

	Hits     *HitTracker                  `json:"hits,omitempty"`
	SellPcts *SellPercentages             `json:"sell_percentages,omitempty"`
	Custom   map[string]CustomLevelConfig `json:"custom,omitempty"`

	// A stage is frozen once its successor exists; it stays viewable but
	// rejects all mutations.
	Frozen bool `json:"frozen"`

	inFlight bool
}
