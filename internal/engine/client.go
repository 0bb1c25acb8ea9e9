package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenfolio/restager/internal/modules/simulation"
)

// Client talks to the external allocation-suggestion engine. The simulator
// treats the engine as an opaque function: portfolio parameters in,
// recommended allocation out.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates an allocation engine client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // suggestion runs can take a while
		},
		log: log.With().Str("component", "engine_client").Logger(),
	}
}

// suggestResponse is the engine's response envelope.
type suggestResponse struct {
	Status  string                       `json:"status"`
	Data    *simulation.AllocationResult `json:"data,omitempty"`
	Message string                       `json:"message,omitempty"`
}

// Suggest requests an allocation recommendation. An envelope with status
// "error" surfaces as a simulation.EngineError carrying the engine's
// reason; connectivity and protocol failures surface as a TransportError.
func (c *Client) Suggest(ctx context.Context, req simulation.EngineRequest) (*simulation.AllocationResult, error) {
	c.log.Debug().
		Int("stage", req.Stage).
		Int("tokens", len(req.Tokens)).
		Str("focus", req.InvestmentFocus).
		Msg("Requesting allocation suggestion")

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/allocations/suggest", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &simulation.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &simulation.TransportError{
			Err: fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var envelope suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &simulation.TransportError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if envelope.Status != "success" {
		return nil, &simulation.EngineError{Message: envelope.Message}
	}
	if envelope.Data == nil {
		return nil, &simulation.TransportError{Err: fmt.Errorf("success response carried no data")}
	}

	c.log.Info().
		Int("stage", req.Stage).
		Int("positions", len(envelope.Data.PositionSizes)).
		Float64("elapsed_seconds", time.Since(startTime).Seconds()).
		Msg("Allocation suggestion received")

	return envelope.Data, nil
}

// HealthCheck checks if the allocation engine is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	c.log.Debug().Msg("Allocation engine health check passed")
	return nil
}
