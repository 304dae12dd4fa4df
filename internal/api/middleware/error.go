// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"pkt.systems/pslog"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, errCode, message string) {
	WriteErrorWithDetails(w, status, errCode, message, nil)
}

// WriteErrorWithDetails writes a JSON error response with additional details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, errCode, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
		Details: details,
	})
}

// ErrorRecovery returns middleware that recovers from panics and returns a 500 error.
func ErrorRecovery(logger pslog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("http.panic", "method", r.Method, "path", r.URL.Path,
						"panic", err, "stack", string(debug.Stack()))
					WriteError(w, http.StatusInternalServerError, ErrInternalError, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Common error codes
const (
	ErrNotFound          = "not_found"
	ErrBadRequest        = "bad_request"
	ErrConflict          = "conflict"
	ErrInvalidTransition = "invalid_transition"
	ErrCapacityConflict  = "capacity_conflict"
	ErrInvalidStatus     = "invalid_status"
	ErrInternalError     = "internal_error"
	ErrValidation        = "validation_error"
	ErrUnauthorized      = "unauthorized"
	ErrForbidden         = "forbidden"
	ErrRateLimited       = "rate_limited"
)
