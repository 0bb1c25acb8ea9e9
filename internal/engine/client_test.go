package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenfolio/restager/internal/modules/simulation"
)

func sampleRequest() simulation.EngineRequest {
	return simulation.EngineRequest{
		CurrentPortfolio:   10000,
		TargetPortfolio:    40000,
		TimeHorizon:        0.5,
		MaxLoss:            2000,
		InvestmentFocus:    "High Conviction Only",
		Tokens:             []simulation.TokenRef{{Name: "High Token 1", Conviction: simulation.ConvictionHigh}},
		ProfitTakingLevels: 3,
		Stage:              1,
	}
}

func TestClient_Suggest_Success(t *testing.T) {
	var gotPath string
	var gotBody simulation.EngineRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": simulation.AllocationResult{
				RequiredCAGR:        15.2,
				RecommendedStrategy: "Aggressive Growth",
				PositionSizes: []simulation.TokenPosition{
					{Name: "High Token 1", Conviction: simulation.ConvictionHigh, PositionSize: 10000},
				},
				StopLossTakeProfit: map[string]simulation.BaselineExit{
					"High Token 1": {StopLossPct: 15, TakeProfitPct: 30},
				},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	result, err := client.Suggest(context.Background(), sampleRequest())

	require.NoError(t, err)
	assert.Equal(t, "/api/v1/allocations/suggest", gotPath)
	assert.Equal(t, 1, gotBody.Stage)
	assert.Nil(t, gotBody.RemainingAmount)
	assert.Equal(t, "Aggressive Growth", result.RecommendedStrategy)
	require.Len(t, result.PositionSizes, 1)
}

func TestClient_Suggest_EngineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "error",
			"message": "target not reachable within horizon",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Suggest(context.Background(), sampleRequest())

	var engineErr *simulation.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "target not reachable within horizon", engineErr.Message)
}

func TestClient_Suggest_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Suggest(context.Background(), sampleRequest())

	var transportErr *simulation.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestClient_Suggest_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Suggest(context.Background(), sampleRequest())

	var transportErr *simulation.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestClient_Suggest_MissingData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	_, err := client.Suggest(context.Background(), sampleRequest())

	var transportErr *simulation.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	assert.NoError(t, client.HealthCheck(context.Background()))
}
