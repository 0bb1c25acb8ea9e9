package simulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tokenfolio/restager/pkg/formulas"
)

// Handler exposes the simulator over HTTP. It is a thin action-dispatch
// boundary: every endpoint maps onto exactly one sequencer operation, and
// reads return plain snapshots.
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a simulation handler.
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "simulation").Logger(),
	}
}

// Routes mounts the simulator endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.HandleCreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGetSession)
		r.Delete("/", h.HandleCloseSession)
		r.Post("/submit", h.HandleSubmit)
		r.Post("/toggle-level", h.HandleToggleLevel)
		r.Post("/toggle-stop-loss", h.HandleToggleStopLoss)
		r.Post("/sell-percentage", h.HandleSetSellPercentage)
		r.Post("/custom-levels", h.HandleSetCustomLevels)
		r.Get("/realized", h.HandleRealized)
		r.Post("/proceed", h.HandleProceed)
		r.Post("/stage/{index}", h.HandleGoToStage)
	})
}

// sessionSnapshot is the read model returned by GET and after mutations.
type sessionSnapshot struct {
	ID           string   `json:"id"`
	Stages       []*Stage `json:"stages"`
	ViewingStage int      `json:"viewing_stage"`
	ActiveStage  int      `json:"active_stage"`
}

// snapshot builds the read model. The caller must hold the session lock.
func (h *Handler) snapshot(id string, seq *Sequencer) sessionSnapshot {
	return sessionSnapshot{
		ID:           id,
		Stages:       seq.Stages(),
		ViewingStage: seq.ViewedStage().Index,
		ActiveStage:  seq.ActiveStage().Index,
	}
}

// marshalLocked encodes a response payload while holding the session lock.
// Stage snapshots reference live hit and sell-percentage maps, so encoding
// must not run concurrently with a mutation on another request.
func (h *Handler) marshalLocked(sess *Session, build func(seq *Sequencer) interface{}) ([]byte, error) {
	var raw []byte
	err := h.service.WithSession(sess, func(seq *Sequencer) error {
		var err error
		raw, err = json.Marshal(build(seq))
		return err
	})
	return raw, err
}

// HandleCreateSession handles POST /sessions - start a new simulation.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.service.CreateSession()
	raw, err := h.marshalLocked(sess, func(seq *Sequencer) interface{} {
		return h.snapshot(sess.ID, seq)
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.writeRaw(w, http.StatusCreated, raw)
}

// HandleGetSession handles GET /sessions/{id} - full session snapshot.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	raw, err := h.marshalLocked(sess, func(seq *Sequencer) interface{} {
		return h.snapshot(sess.ID, seq)
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.writeRaw(w, http.StatusOK, raw)
}

// HandleCloseSession handles DELETE /sessions/{id} - user is done.
func (h *Handler) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.service.Close(chi.URLParam(r, "id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubmit handles POST /sessions/{id}/submit - submit the active
// stage's form to the allocation engine.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var form FormState
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Submit(r.Context(), sess, form)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	raw, err := h.marshalLocked(sess, func(seq *Sequencer) interface{} {
		return map[string]interface{}{
			"result":  result,
			"session": h.snapshot(sess.ID, seq),
		}
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.writeRaw(w, http.StatusOK, raw)
}

type toggleRequest struct {
	Token string `json:"token"`
	Level int    `json:"level"`
}

// HandleToggleLevel handles POST /sessions/{id}/toggle-level - flip one
// hypothetical profit-level hit.
func (h *Handler) HandleToggleLevel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var state HitState
	err := h.service.WithSession(sess, func(seq *Sequencer) error {
		var err error
		state, err = seq.ToggleProfitLevel(req.Token, req.Level)
		return err
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"token": req.Token, "hit_state": state})
}

// HandleToggleStopLoss handles POST /sessions/{id}/toggle-stop-loss.
func (h *Handler) HandleToggleStopLoss(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var state HitState
	err := h.service.WithSession(sess, func(seq *Sequencer) error {
		var err error
		state, err = seq.ToggleStopLoss(req.Token)
		return err
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"token": req.Token, "hit_state": state})
}

type sellPercentageRequest struct {
	Token      string  `json:"token"`
	Level      int     `json:"level"`
	Percentage float64 `json:"percentage"`
}

// HandleSetSellPercentage handles POST /sessions/{id}/sell-percentage.
func (h *Handler) HandleSetSellPercentage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req sellPercentageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.WithSession(sess, func(seq *Sequencer) error {
		return seq.SetSellPercentage(req.Token, req.Level, req.Percentage)
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type customLevelsRequest struct {
	Token string `json:"token"`
	CustomLevelConfig
}

// HandleSetCustomLevels handles POST /sessions/{id}/custom-levels - enable
// or disable a per-token exit override.
func (h *Handler) HandleSetCustomLevels(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req customLevelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var levels TokenLevels
	err := h.service.WithSession(sess, func(seq *Sequencer) error {
		if err := seq.SetCustomConfig(req.Token, req.CustomLevelConfig); err != nil {
			return err
		}
		levels = seq.ActiveStage().Levels[req.Token]
		return nil
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"token": req.Token, "levels": levels})
}

// realizedResponse reports the realized capital with a small statistical
// summary of the per-token breakdown.
type realizedResponse struct {
	Realized  float64            `json:"realized"`
	Breakdown map[string]float64 `json:"breakdown"`
	Summary   realizedSummary    `json:"summary"`
}

type realizedSummary struct {
	MeanPerToken   float64 `json:"mean_per_token"`
	StdDevPerToken float64 `json:"std_dev_per_token"`
	MaxShare       float64 `json:"max_share"`
	ImpliedCAGR    float64 `json:"implied_cagr"`
}

// HandleRealized handles GET /sessions/{id}/realized.
func (h *Handler) HandleRealized(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var resp realizedResponse
	err := h.service.WithSession(sess, func(seq *Sequencer) error {
		total, breakdown, err := seq.Realized()
		if err != nil {
			return err
		}

		amounts := make([]float64, 0, len(breakdown))
		for _, v := range breakdown {
			amounts = append(amounts, v)
		}

		stage := seq.ActiveStage()
		years := horizonYears(stage.Form.TimeHorizon, stage.Form.TimeUnit)

		resp = realizedResponse{
			Realized:  total,
			Breakdown: breakdown,
			Summary: realizedSummary{
				MeanPerToken:   formulas.Mean(amounts),
				StdDevPerToken: formulas.StdDev(amounts),
				MaxShare:       formulas.MaxShare(amounts),
				ImpliedCAGR:    formulas.CAGR(stage.SeedCapital, total, years),
			},
		}
		return nil
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleProceed handles POST /sessions/{id}/proceed - open the next stage
// seeded with the realized capital.
func (h *Handler) HandleProceed(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	next, err := h.service.Proceed(sess)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	raw, err := h.marshalLocked(sess, func(seq *Sequencer) interface{} {
		return map[string]interface{}{
			"stage":   next,
			"session": h.snapshot(sess.ID, seq),
		}
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.writeRaw(w, http.StatusOK, raw)
}

// HandleGoToStage handles POST /sessions/{id}/stage/{index} - navigate to
// a past stage for read-only viewing.
func (h *Handler) HandleGoToStage(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		http.Error(w, "invalid stage index", http.StatusBadRequest)
		return
	}

	var raw []byte
	err = h.service.WithSession(sess, func(seq *Sequencer) error {
		stage, err := seq.GoToStage(index)
		if err != nil {
			return err
		}
		raw, err = json.Marshal(stage)
		return err
	})
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}

	h.writeRaw(w, http.StatusOK, raw)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := h.service.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// writeWorkflowError maps simulator errors onto HTTP status codes. Every
// failed transition leaves the prior state intact, so the client can simply
// correct and retry.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error) {
	var (
		validationErr *ValidationError
		engineErr     *EngineError
		transportErr  *TransportError
	)

	switch {
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.As(err, &engineErr):
		http.Error(w, engineErr.Error(), http.StatusBadGateway)
	case errors.As(err, &transportErr):
		http.Error(w, "connecting to server failed, try again", http.StatusServiceUnavailable)
	case errors.Is(err, ErrStageNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrReallocationUnavailable),
		errors.Is(err, ErrSubmitInFlight),
		errors.Is(err, ErrStageImmutable),
		errors.Is(err, ErrNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error().Err(err).Msg("Unexpected simulator error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeRaw(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(raw); err != nil {
		h.log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
