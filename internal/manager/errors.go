package manager

import (
	"errors"
	"net/http"
)

// InitializationError reports a failed engine construction. The process
// should not serve traffic after receiving one.
type InitializationError struct{ Cause error }

func (e *InitializationError) Error() string {
	return "engine initialization failed: " + e.Cause.Error()
}

func (e *InitializationError) Unwrap() error { return e.Cause }

func (e *InitializationError) StatusCode() int { return http.StatusInternalServerError }

// IsInitialization reports whether err is an InitializationError.
func IsInitialization(err error) bool {
	var ie *InitializationError
	return errors.As(err, &ie)
}

// engineNotReadyError signals a generation attempt without a ready engine so
// the HTTP layer can return 503 Service Unavailable.
type engineNotReadyError struct{}

func (engineNotReadyError) Error() string   { return "engine has not been initialized" }
func (engineNotReadyError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrEngineNotReady is returned by Generate before Initialize succeeds, after
// Shutdown, and to generations interrupted by Shutdown.
var ErrEngineNotReady error = engineNotReadyError{}

// IsEngineNotReady reports whether err indicates a missing engine (return 503).
func IsEngineNotReady(err error) bool { return errors.Is(err, ErrEngineNotReady) }

// InvalidRequestError reports a request that violates the prompt/image rules.
type InvalidRequestError struct{ Reason string }

func (e *InvalidRequestError) Error() string   { return "invalid request: " + e.Reason }
func (e *InvalidRequestError) StatusCode() int { return http.StatusBadRequest }

// IsInvalidRequest reports whether err is an InvalidRequestError.
func IsInvalidRequest(err error) bool {
	var ire *InvalidRequestError
	return errors.As(err, &ire)
}

// InferenceFailureError wraps an engine failure during submission or while
// streaming. It is never retried.
type InferenceFailureError struct {
	RequestID string
	Cause     error
}

func (e *InferenceFailureError) Error() string {
	return "model inference failed: " + e.Cause.Error()
}

func (e *InferenceFailureError) Unwrap() error   { return e.Cause }
func (e *InferenceFailureError) StatusCode() int { return http.StatusInternalServerError }

// Details is rendered into the error payload by the HTTP layer.
func (e *InferenceFailureError) Details() map[string]any {
	return map[string]any{"request_id": e.RequestID, "error": e.Cause.Error()}
}

// IsInferenceFailure reports whether err is an InferenceFailureError.
func IsInferenceFailure(err error) bool {
	var ife *InferenceFailureError
	return errors.As(err, &ife)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string   { return "too busy: " + e.reason }
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}
