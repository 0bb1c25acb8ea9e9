package simulation

import (
	"context"

	"github.com/rs/zerolog"
)

// nextTargetFactor is the growth floor applied to a new stage's target: the
// goal of stage k+1 must sit meaningfully above the capital just realized.
const nextTargetFactor = 1.2

// Sequencer drives the round-based reallocation workflow. It exclusively
// owns the ordered stage history; hit states and sell percentages are owned
// by their stage. Stage k+1 cannot exist until stage k has a result, and a
// stage freezes the moment its successor is created.
//
// The sequencer is not safe for concurrent use; the session layer
// serializes access (state is mutated by a single logical actor).
type Sequencer struct {
	engine  Suggester
	log     zerolog.Logger
	stages  []*Stage
	viewing int // 0-based index of the stage currently displayed
}

// NewSequencer starts a fresh simulation at stage 1.
func NewSequencer(engine Suggester, log zerolog.Logger) *Sequencer {
	s := &Sequencer{
		engine: engine,
		log:    log.With().Str("component", "stage_sequencer").Logger(),
	}
	s.stages = append(s.stages, &Stage{
		Index:  1,
		Status: StageAwaitingSubmission,
	})
	return s
}

// Stages returns the ordered stage history.
func (s *Sequencer) Stages() []*Stage {
	return s.stages
}

// ActiveStage returns the newest stage, the only one accepting mutations.
func (s *Sequencer) ActiveStage() *Stage {
	return s.stages[len(s.stages)-1]
}

// ViewedStage returns the stage currently being displayed.
func (s *Sequencer) ViewedStage() *Stage {
	return s.stages[s.viewing]
}

// GoToStage navigates to a previously created stage for read-only viewing.
// Indexes are 1-based. Navigation never mutates any stage's hit state.
func (s *Sequencer) GoToStage(index int) (*Stage, error) {
	if index < 1 || index > len(s.stages) {
		return nil, ErrStageNotFound
	}
	s.viewing = index - 1
	return s.stages[s.viewing], nil
}

// PrepareSubmit validates the form for the active stage and marks the
// engine request as in flight. The returned request must be resolved with
// ResolveSubmit. A second prepare while a request is outstanding fails with
// ErrSubmitInFlight; validation failures block the engine call entirely.
//
// For stages after the first, the target floor set at Proceed time is
// applied and the stage's seed capital rides along as remaining_amount.
func (s *Sequencer) PrepareSubmit(form FormState) (EngineRequest, error) {
	stage := s.ActiveStage()
	if stage.inFlight {
		return EngineRequest{}, ErrSubmitInFlight
	}
	if stage.Status == StageResultReady {
		return EngineRequest{}, ErrStageImmutable
	}

	if stage.MinTarget > 0 && form.TargetPortfolio < stage.MinTarget {
		form.TargetPortfolio = stage.MinTarget
	}

	if err := ValidateForm(form); err != nil {
		return EngineRequest{}, err
	}

	carried := 0.0
	if stage.Index > 1 {
		carried = stage.SeedCapital
	}

	stage.Form = &form
	stage.Status = StageAwaitingEngine
	stage.inFlight = true

	s.log.Debug().
		Int("stage", stage.Index).
		Float64("current_portfolio", form.CurrentPortfolio).
		Float64("target_portfolio", form.TargetPortfolio).
		Msg("Stage form accepted, contacting engine")

	return BuildRequest(form, stage.Index, carried), nil
}

// ResolveSubmit records the outcome of the in-flight engine call. On
// success the result is attached, exit ladders are derived and fresh hit
// and sell-percentage maps are created; the stage becomes ResultReady. On
// failure the stage returns to AwaitingSubmission with its history
// untouched, and the engine's error passes through to the caller.
func (s *Sequencer) ResolveSubmit(result *AllocationResult, engineErr error) (*AllocationResult, error) {
	stage := s.ActiveStage()
	stage.inFlight = false

	if engineErr != nil {
		stage.Status = StageAwaitingSubmission
		s.log.Warn().Err(engineErr).Int("stage", stage.Index).Msg("Engine call failed")
		return nil, engineErr
	}

	stage.Result = result
	stage.Custom = make(map[string]CustomLevelConfig)
	stage.Levels = deriveStageLevels(result, stage.Form.ProfitTakingLevels, stage.Custom)
	stage.Hits = NewHitTracker(stage.Levels)
	stage.SellPcts = NewSellPercentages()
	stage.Status = StageResultReady
	if stage.Index == 1 {
		stage.SeedCapital = stage.Form.CurrentPortfolio
	}

	s.viewing = len(s.stages) - 1

	s.log.Info().
		Int("stage", stage.Index).
		Int("tokens", len(result.PositionSizes)).
		Float64("required_cagr", result.RequiredCAGR).
		Msg("Allocation result attached")

	return result, nil
}

// Submit runs the full submit cycle synchronously: validate, call the
// engine, attach the result. The session layer prefers the prepare/resolve
// split so it can drop its lock during the engine round trip.
func (s *Sequencer) Submit(ctx context.Context, form FormState) (*AllocationResult, error) {
	req, err := s.PrepareSubmit(form)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Suggest(ctx, req)
	return s.ResolveSubmit(result, err)
}

// mutableStage returns the active stage if it is accepting hit-state
// mutations.
func (s *Sequencer) mutableStage() (*Stage, error) {
	stage := s.ActiveStage()
	if stage.Frozen {
		return nil, ErrStageImmutable
	}
	if stage.Status != StageResultReady {
		return nil, ErrNotReady
	}
	return stage, nil
}

// ToggleProfitLevel flips a hypothetical profit-level hit on the active
// stage.
func (s *Sequencer) ToggleProfitLevel(token string, level int) (HitState, error) {
	stage, err := s.mutableStage()
	if err != nil {
		return HitState{}, err
	}
	return stage.Hits.ToggleProfitLevel(token, level), nil
}

// ToggleStopLoss flips a hypothetical stop-loss hit on the active stage.
func (s *Sequencer) ToggleStopLoss(token string) (HitState, error) {
	stage, err := s.mutableStage()
	if err != nil {
		return HitState{}, err
	}
	return stage.Hits.ToggleStopLoss(token), nil
}

// SetSellPercentage records the sell percentage for one token level of the
// active stage.
func (s *Sequencer) SetSellPercentage(token string, level int, pct float64) error {
	stage, err := s.mutableStage()
	if err != nil {
		return err
	}
	stage.SellPcts.Set(token, level, pct)
	return nil
}

// SetCustomConfig enables or disables a per-token exit override on the
// active stage. The token's ladder is re-derived and its hit marks and sell
// percentages reset, since level indexes no longer line up.
func (s *Sequencer) SetCustomConfig(token string, cfg CustomLevelConfig) error {
	stage, err := s.mutableStage()
	if err != nil {
		return err
	}

	var pos *TokenPosition
	for i := range stage.Result.PositionSizes {
		if stage.Result.PositionSizes[i].Name == token {
			pos = &stage.Result.PositionSizes[i]
			break
		}
	}
	if pos == nil {
		return &ValidationError{Field: "token", Reason: "unknown token " + token}
	}

	if cfg.Enabled {
		stage.Custom[token] = cfg
		stage.Levels[token] = DeriveCustomLevels(*pos, cfg)
	} else {
		delete(stage.Custom, token)
		stage.Levels[token] = DeriveLevels(*pos, stage.Result.StopLossTakeProfit[token], stage.Form.ProfitTakingLevels)
	}

	stage.Hits.Resize(token, len(stage.Levels[token].ProfitLevels))
	stage.SellPcts.Reset(token)
	return nil
}

// Realized computes the capital realized under the active stage's current
// hit hypotheses, with the per-token breakdown.
func (s *Sequencer) Realized() (float64, map[string]float64, error) {
	stage := s.ActiveStage()
	if stage.Status != StageResultReady {
		return 0, nil, ErrNotReady
	}
	breakdown, _ := RealizedBreakdown(stage.Result.PositionSizes, stage.Hits, stage.SellPcts, stage.Levels)
	total := ComputeRealized(stage.Result.PositionSizes, stage.Hits, stage.SellPcts, stage.Levels)
	return total, breakdown, nil
}

// Proceed closes out the active stage and opens the next one, seeded with
// the realized capital. It fails with ErrReallocationUnavailable when
// nothing has been realized (no hit marked anywhere), leaving the history
// unchanged. The new stage's target portfolio is floored at
// max(previous target, realized × 1.2).
func (s *Sequencer) Proceed() (*Stage, error) {
	stage := s.ActiveStage()
	if stage.Status != StageResultReady {
		return nil, ErrNotReady
	}

	realized := ComputeRealized(stage.Result.PositionSizes, stage.Hits, stage.SellPcts, stage.Levels)
	if realized <= 0 {
		return nil, ErrReallocationUnavailable
	}

	minTarget := stage.Form.TargetPortfolio
	if floor := realized * nextTargetFactor; floor > minTarget {
		minTarget = floor
	}

	stage.Frozen = true

	next := &Stage{
		Index:       stage.Index + 1,
		SeedCapital: realized,
		MinTarget:   minTarget,
		Status:      StageAwaitingSubmission,
	}
	s.stages = append(s.stages, next)
	s.viewing = len(s.stages) - 1

	s.log.Info().
		Int("stage", next.Index).
		Float64("seed_capital", realized).
		Float64("min_target", minTarget).
		Msg("Advanced to next stage")

	return next, nil
}
