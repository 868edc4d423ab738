package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"ocrd/internal/manager"
	"ocrd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// detailer is implemented by errors that carry structured details.
type detailer interface {
	Details() map[string]any
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Details: details, StatusCode: status})
}

// statusFor maps an error to its HTTP status. Errors without a status are
// internal errors.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// errorMessage returns the client-facing message for err.
func errorMessage(err error, status int) string {
	switch {
	case manager.IsEngineNotReady(err):
		return "Model not loaded. Service is initializing."
	case manager.IsInferenceFailure(err):
		return "Model inference failed"
	case status == http.StatusInternalServerError:
		return "Internal server error"
	}
	return err.Error()
}

// writeError maps err to status, message and details.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	var details map[string]any
	var d detailer
	if errors.As(err, &d) {
		details = d.Details()
	}
	if details == nil && status != http.StatusInternalServerError {
		details = map[string]any{"reason": err.Error()}
	}
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue")
	}
	writeJSONError(w, status, errorMessage(err, status), details)
	return status
}
