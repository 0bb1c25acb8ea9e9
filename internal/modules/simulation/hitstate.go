package simulation

import "encoding/json"

// HitState records which hypothetical exit events are marked for one token.
// Two invariants hold at all times:
//
//   - mutual exclusion: HitStopLoss excludes every profit level and vice versa
//   - monotonicity: a hit at level i implies hits at all levels below i
type HitState struct {
	HitStopLoss     bool   `json:"hit_stop_loss"`
	HitProfitLevels []bool `json:"hit_profit_levels"`
}

func newHitState(levelCount int) HitState {
	return HitState{HitProfitLevels: make([]bool, levelCount)}
}

func (h HitState) clone() HitState {
	out := HitState{HitStopLoss: h.HitStopLoss, HitProfitLevels: make([]bool, len(h.HitProfitLevels))}
	copy(out.HitProfitLevels, h.HitProfitLevels)
	return out
}

// AnyHit reports whether any exit event is marked.
func (h HitState) AnyHit() bool {
	if h.HitStopLoss {
		return true
	}
	for _, hit := range h.HitProfitLevels {
		if hit {
			return true
		}
	}
	return false
}

// toggleProfitLevel is the pure transition for flipping one profit level.
// Setting level i cascades levels 0..i-1 to hit (lower levels cannot be
// skipped) and clears the stop-loss flag. Clearing level i cascades levels
// i+1.. to un-hit. Out-of-range indexes are a no-op.
func toggleProfitLevel(s HitState, level int) HitState {
	if level < 0 || level >= len(s.HitProfitLevels) {
		return s
	}

	out := s.clone()
	out.HitProfitLevels[level] = !out.HitProfitLevels[level]

	if out.HitProfitLevels[level] {
		for i := 0; i < level; i++ {
			out.HitProfitLevels[i] = true
		}
		out.HitStopLoss = false
	} else {
		for i := level + 1; i < len(out.HitProfitLevels); i++ {
			out.HitProfitLevels[i] = false
		}
	}

	return out
}

// toggleStopLoss is the pure transition for flipping the stop-loss flag.
// Setting it clears every profit level.
func toggleStopLoss(s HitState) HitState {
	out := s.clone()
	out.HitStopLoss = !out.HitStopLoss

	if out.HitStopLoss {
		for i := range out.HitProfitLevels {
			out.HitProfitLevels[i] = false
		}
	}

	return out
}

// HitTracker owns the hit states of one stage, keyed by token name.
// Mutations go through the two toggle entry points only, so the invariants
// above are enforced in one place.
type HitTracker struct {
	states map[string]HitState
	counts map[string]int
}

// NewHitTracker creates a tracker sized from the stage's derived exit
// levels (one boolean per profit level per token).
func NewHitTracker(levels map[string]TokenLevels) *HitTracker {
	t := &HitTracker{
		states: make(map[string]HitState, len(levels)),
		counts: make(map[string]int, len(levels)),
	}
	for name, lv := range levels {
		t.counts[name] = len(lv.ProfitLevels)
	}
	return t
}

// State returns the current hit state for a token. Unknown tokens get an
// empty state with zero levels.
func (t *HitTracker) State(token string) HitState {
	if s, ok := t.states[token]; ok {
		return s
	}
	return newHitState(t.counts[token])
}

// ToggleProfitLevel flips one profit level for a token and re-establishes
// the cascade and exclusion invariants. Only the named token is affected.
func (t *HitTracker) ToggleProfitLevel(token string, level int) HitState {
	next := toggleProfitLevel(t.State(token), level)
	t.states[token] = next
	return next
}

// ToggleStopLoss flips the stop-loss flag for a token.
func (t *HitTracker) ToggleStopLoss(token string) HitState {
	next := toggleStopLoss(t.State(token))
	t.states[token] = next
	return next
}

// Resize re-sizes a token's level slice after its level count changed (a
// custom override toggled). All marks for that token are dropped, since
// level indexes no longer line up.
func (t *HitTracker) Resize(token string, levelCount int) {
	t.counts[token] = levelCount
	delete(t.states, token)
}

// Snapshot returns a copy of every token's hit state, including tokens
// that were never toggled.
func (t *HitTracker) Snapshot() map[string]HitState {
	out := make(map[string]HitState, len(t.counts))
	for name := range t.counts {
		out[name] = t.State(name).clone()
	}
	return out
}

// MarshalJSON serializes the tracker as its per-token snapshot.
func (t *HitTracker) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// AnyHit reports whether any token has any exit event marked.
func (t *HitTracker) AnyHit() bool {
	for _, s := range t.states {
		if s.AnyHit() {
			return true
		}
	}
	return false
}
