package simulation

import (
	"errors"
	"fmt"
)

// Sentinel errors for workflow-level failures. Handlers map these onto
// HTTP status codes; none of them leaves the sequencer in an inconsistent
// state.
var (
	// ErrReallocationUnavailable is returned by Proceed when no exit event
	// has been marked yet, so there is no realized capital to carry over.
	ErrReallocationUnavailable = errors.New("no realized capital: mark at least one stop-loss or profit level before proceeding")

	// ErrSubmitInFlight is returned when a stage already has an engine
	// request outstanding.
	ErrSubmitInFlight = errors.New("a suggestion request for this stage is already in flight")

	// ErrStageNotFound is returned for out-of-range stage navigation.
	ErrStageNotFound = errors.New("stage not found")

	// ErrStageImmutable is returned when mutating a stage that has been
	// superseded by a later one.
	ErrStageImmutable = errors.New("stage is read-only once a later stage exists")

	// ErrNotReady is returned when an operation requires an engine result
	// that has not been attached yet.
	ErrNotReady = errors.New("stage has no allocation result yet")
)

// ValidationError reports a rejected form field. It blocks the engine call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EngineError carries the reason reported by the allocation engine itself
// (response with status "error").
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("allocation engine rejected request: %s", e.Message)
}

// TransportError wraps a failure to reach the allocation engine at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connecting to allocation engine failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
