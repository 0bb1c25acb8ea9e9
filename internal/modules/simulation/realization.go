package simulation

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// SellPercentages stores, per token and per hit profit level, what fraction
// of the currently remaining position is sold at that level. Values are
// percent units clamped to [1,100]; levels without an explicit value
// default to 100 (sell everything remaining).
type SellPercentages struct {
	values map[string]map[int]float64
}

// NewSellPercentages creates an empty map; every level starts at the
// default of 100%.
func NewSellPercentages() *SellPercentages {
	return &SellPercentages{values: make(map[string]map[int]float64)}
}

// Set records the sell percentage for one token level.
func (s *SellPercentages) Set(token string, level int, pct float64) {
	if s.values[token] == nil {
		s.values[token] = make(map[int]float64)
	}
	s.values[token][level] = clampFloat(pct, 1, 100)
}

// Get returns the sell percentage for a token level, defaulting to 100.
func (s *SellPercentages) Get(token string, level int) float64 {
	if perLevel, ok := s.values[token]; ok {
		if pct, ok := perLevel[level]; ok {
			return pct
		}
	}
	return 100
}

// Reset drops all stored percentages for a token (used when its level
// layout changes).
func (s *SellPercentages) Reset(token string) {
	delete(s.values, token)
}

// MarshalJSON serializes only the explicitly set values.
func (s *SellPercentages) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

var one = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

// RealizedBreakdown computes, per token, the capital realized under the
// current hit hypotheses. A stop-loss hit realizes the stop-loss amount.
// Otherwise hit profit levels are walked in order, each selling its sell
// percentage of the position still remaining after earlier tranches, at
// (1 + level pump). Tokens with no hit contribute zero.
//
// The second return value reports whether any token had any hit at all.
// Tranche arithmetic runs on decimals so chained percentages don't drift.
func RealizedBreakdown(positions []TokenPosition, hits *HitTracker, sellPcts *SellPercentages, levels map[string]TokenLevels) (map[string]float64, bool) {
	out := make(map[string]float64, len(positions))
	anyHit := false

	for _, pos := range positions {
		ladder, ok := levels[pos.Name]
		if !ok {
			out[pos.Name] = 0
			continue
		}
		state := hits.State(pos.Name)

		if state.HitStopLoss {
			out[pos.Name] = ladder.StopLoss.Amount
			anyHit = true
			continue
		}

		remaining := decimal.NewFromFloat(pos.PositionSize)
		realized := decimal.Zero
		tokenHit := false

		for i, level := range ladder.ProfitLevels {
			if i >= len(state.HitProfitLevels) || !state.HitProfitLevels[i] {
				continue
			}
			tokenHit = true

			sellFrac := decimal.NewFromFloat(sellPcts.Get(pos.Name, i)).Div(hundred)
			sold := remaining.Mul(sellFrac)
			remaining = remaining.Sub(sold)
			realized = realized.Add(sold.Mul(one.Add(decimal.NewFromFloat(level.Percentage))))
		}

		if tokenHit {
			anyHit = true
		}
		out[pos.Name], _ = realized.Float64()
	}

	return out, anyHit
}

// ComputeRealized sums the per-token realized capital across a stage's
// result set. It returns exactly 0 when no hit is marked anywhere, and is
// floored at 1 otherwise so a zero or negative seed can never propagate
// into the next stage.
func ComputeRealized(positions []TokenPosition, hits *HitTracker, sellPcts *SellPercentages, levels map[string]TokenLevels) float64 {
	breakdown, anyHit := RealizedBreakdown(positions, hits, sellPcts, levels)
	if !anyHit {
		return 0
	}

	total := 0.0
	for _, amount := range breakdown {
		total += amount
	}
	if total < 1 {
		return 1
	}
	return total
}
