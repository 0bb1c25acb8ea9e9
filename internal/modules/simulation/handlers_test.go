package simulation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(engine Suggester) (*chi.Mux, *Service) {
	svc := NewService(engine, nil, time.Hour, zerolog.Nop())
	handler := NewHandler(svc, zerolog.Nop())

	router := chi.NewRouter()
	router.Route("/api/simulation", handler.Routes)
	return router, svc
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submittedSession(t *testing.T, router *chi.Mux) string {
	t.Helper()

	w := doJSON(t, router, "POST", "/api/simulation/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var snap sessionSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))

	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+snap.ID+"/submit", validForm())
	require.Equal(t, http.StatusOK, w.Code)
	return snap.ID
}

func TestHandleCreateAndGetSession(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})

	w := doJSON(t, router, "POST", "/api/simulation/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var snap sessionSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.NotEmpty(t, snap.ID)
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, StageAwaitingSubmission, snap.Stages[0].Status)

	w = doJSON(t, router, "GET", "/api/simulation/sessions/"+snap.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/simulation/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleSubmit(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	w := doJSON(t, router, "GET", "/api/simulation/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap sessionSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, StageResultReady, snap.Stages[0].Status)
	require.NotNil(t, snap.Stages[0].Result)
	assert.Len(t, snap.Stages[0].Result.PositionSizes, 2)
}

func TestHandleSubmit_ValidationError(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})

	w := doJSON(t, router, "POST", "/api/simulation/sessions", nil)
	var snap sessionSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))

	form := validForm()
	form.MaxLoss = 0
	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+snap.ID+"/submit", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "max_loss")
}

func TestHandleSubmit_EngineErrorMapsToBadGateway(t *testing.T) {
	router, _ := testRouter(&stubEngine{err: &EngineError{Message: "horizon too short"}})

	w := doJSON(t, router, "POST", "/api/simulation/sessions", nil)
	var snap sessionSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))

	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+snap.ID+"/submit", validForm())
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "horizon too short")
}

func TestHandleSubmit_TransportErrorMapsToServiceUnavailable(t *testing.T) {
	router, _ := testRouter(&stubEngine{err: &TransportError{Err: fmt.Errorf("connection refused")}})

	w := doJSON(t, router, "POST", "/api/simulation/sessions", nil)
	var snap sessionSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))

	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+snap.ID+"/submit", validForm())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "try again")
}

func TestHandleToggleAndRealized(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/toggle-level",
		toggleRequest{Token: "High Token 1", Level: 1})
	require.Equal(t, http.StatusOK, w.Code)

	var toggleResp struct {
		HitState HitState `json:"hit_state"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&toggleResp))
	assert.Equal(t, []bool{true, true, false}, toggleResp.HitState.HitProfitLevels)

	w = doJSON(t, router, "GET", "/api/simulation/sessions/"+id+"/realized", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var realized realizedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&realized))
	assert.InDelta(t, 1300, realized.Realized, 1e-9)
	assert.InDelta(t, 1300, realized.Breakdown["High Token 1"], 1e-9)
	assert.InDelta(t, 0, realized.Breakdown["Medium Token 1"], 1e-9)
	assert.InDelta(t, 1.0, realized.Summary.MaxShare, 1e-9)
}

func TestHandleStopLossToggle(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/toggle-stop-loss",
		toggleRequest{Token: "High Token 1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/simulation/sessions/"+id+"/realized", nil)
	var realized realizedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&realized))
	assert.InDelta(t, 850, realized.Realized, 1e-9)
}

func TestHandleProceed_Gating(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	// Nothing marked: blocked, history unchanged.
	w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/proceed", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "mark at least one")

	doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/toggle-level",
		toggleRequest{Token: "High Token 1", Level: 1})

	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/proceed", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Stage   *Stage          `json:"stage"`
		Session sessionSnapshot `json:"session"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Stage.Index)
	assert.InDelta(t, 1300, resp.Stage.SeedCapital, 1e-9)
	assert.Len(t, resp.Session.Stages, 2)
}

func TestHandleSellPercentage(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/toggle-level",
		toggleRequest{Token: "High Token 1", Level: 1})

	w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/sell-percentage",
		sellPercentageRequest{Token: "High Token 1", Level: 0, Percentage: 50})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, "GET", "/api/simulation/sessions/"+id+"/realized", nil)
	var realized realizedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&realized))
	assert.InDelta(t, 1450, realized.Realized, 1e-9)
}

func TestHandleCustomLevels(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/custom-levels",
		map[string]interface{}{
			"token":         "High Token 1",
			"enabled":       true,
			"stop_loss_pct": 25,
			"level_count":   2,
		})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Levels TokenLevels `json:"levels"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Levels.ProfitLevels, 2)
	assert.InDelta(t, 0.5, resp.Levels.ProfitLevels[0].Percentage, 1e-9)
}

func TestHandleGoToStage(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/stage/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/stage/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/stage/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// Snapshot responses encode the live hit maps, so reads must serialize
// against concurrent toggles instead of racing them.
func TestHandleGetSession_ConcurrentWithToggles(t *testing.T) {
	router, _ := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			req := httptest.NewRequest("GET", "/api/simulation/sessions/"+id, nil)
			router.ServeHTTP(httptest.NewRecorder(), req)
		}
	}()

	for i := 0; i < 200; i++ {
		w := doJSON(t, router, "POST", "/api/simulation/sessions/"+id+"/toggle-level",
			toggleRequest{Token: "High Token 1", Level: i % 3})
		require.Equal(t, http.StatusOK, w.Code)
	}
	<-done
}

func TestHandleCloseSession(t *testing.T) {
	router, svc := testRouter(&stubEngine{result: stubResult()})
	id := submittedSession(t, router)

	w := doJSON(t, router, "DELETE", "/api/simulation/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, svc.Count())

	w = doJSON(t, router, "DELETE", "/api/simulation/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
