package simulation

import "math"

const (
	// MinProfitLevels and MaxProfitLevels bound the configurable number of
	// take-profit levels, globally and per custom override.
	MinProfitLevels = 1
	MaxProfitLevels = 5
)

// StopLossLevel is the derived stop-loss exit for one token.
// Percentage is a fraction in [0,1]; Amount is the capital recovered when
// the stop triggers.
type StopLossLevel struct {
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
}

// ProfitLevel is one derived take-profit exit. Percentage is the cumulative
// pump from entry as a fraction (0.3 = +30%); Amount is the position value
// at that level. SuggestedSellPct is the default fraction of the remaining
// position to unload there, in percent units.
type ProfitLevel struct {
	Percentage       float64 `json:"percentage"`
	Amount           float64 `json:"amount"`
	SuggestedSellPct float64 `json:"suggested_sell_pct"`
}

// TokenLevels is the full derived exit ladder for one token in one stage.
type TokenLevels struct {
	StopLoss     StopLossLevel `json:"stop_loss"`
	ProfitLevels []ProfitLevel `json:"profit_levels"`
}

// DeriveLevels builds a token's exit ladder from the engine's baseline
// percentages (percent units). Level i steps linearly from the baseline:
// its pump percentage is baselineTakeProfitPct × (i+1).
//
// Derivation is pure; recomputing with the same inputs yields the same
// ladder.
func DeriveLevels(position TokenPosition, baseline BaselineExit, levelCount int) TokenLevels {
	levelCount = clampInt(levelCount, MinProfitLevels, MaxProfitLevels)

	stopPct := baseline.StopLossPct / 100
	levels := make([]ProfitLevel, levelCount)
	for i := range levels {
		pct := baseline.TakeProfitPct * float64(i+1) / 100
		levels[i] = ProfitLevel{
			Percentage:       pct,
			Amount:           position.PositionSize * (1 + pct),
			SuggestedSellPct: SuggestedSellPct(i, levelCount),
		}
	}

	return TokenLevels{
		StopLoss: StopLossLevel{
			Percentage: stopPct,
			Amount:     position.PositionSize * (1 - stopPct),
		},
		ProfitLevels: levels,
	}
}

// DeriveCustomLevels builds a token's exit ladder from a user override:
// the stop-loss percentage is the user's value (clamped to [0,100]) and the
// profit levels are spaced evenly, level i at (i+1) × (100 / levelCount)
// percent pump.
func DeriveCustomLevels(position TokenPosition, cfg CustomLevelConfig) TokenLevels {
	levelCount := clampInt(cfg.LevelCount, MinProfitLevels, MaxProfitLevels)
	stopPct := clampFloat(cfg.StopLossPct, 0, 100) / 100

	step := 100 / float64(levelCount)
	levels := make([]ProfitLevel, levelCount)
	for i := range levels {
		pct := float64(i+1) * step / 100
		levels[i] = ProfitLevel{
			Percentage:       pct,
			Amount:           position.PositionSize * (1 + pct),
			SuggestedSellPct: SuggestedSellPct(i, levelCount),
		}
	}

	return TokenLevels{
		StopLoss: StopLossLevel{
			Percentage: stopPct,
			Amount:     position.PositionSize * (1 - stopPct),
		},
		ProfitLevels: levels,
	}
}

// SuggestedSellPct returns the default sell percentage for level i of n.
// The last level always unloads everything; an earlier level i suggests
// ceil(100/(n-i))%, capped at 100.
func SuggestedSellPct(i, n int) float64 {
	if i >= n-1 {
		return 100
	}
	pct := math.Ceil(100 / float64(n-i))
	return math.Min(pct, 100)
}

// deriveStageLevels rebuilds the exit ladders for every token of a stage's
// result, honoring per-token custom overrides.
func deriveStageLevels(result *AllocationResult, levelCount int, custom map[string]CustomLevelConfig) map[string]TokenLevels {
	out := make(map[string]TokenLevels, len(result.PositionSizes))
	for _, pos := range result.PositionSizes {
		if cfg, ok := custom[pos.Name]; ok && cfg.Enabled {
			out[pos.Name] = DeriveCustomLevels(pos, cfg)
			continue
		}
		out[pos.Name] = DeriveLevels(pos, result.StopLossTakeProfit[pos.Name], levelCount)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
