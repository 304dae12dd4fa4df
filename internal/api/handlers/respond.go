// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pkt.systems/pslog"

	"github.com/parking-reservation/backend/internal/api/middleware"
	"github.com/parking-reservation/backend/internal/parking"
)

const maxBodyBytes = 1 << 20

// Services holds what the handlers need to serve requests.
type Services struct {
	Engine     *parking.Engine
	Reconciler *parking.Reconciler
	Logger     pslog.Logger
}

func (s *Services) logger() pslog.Logger {
	if s.Logger == nil {
		return pslog.NoopLogger()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps parking errors onto the API error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger pslog.Logger, err error) {
	var capErr *parking.CapacityConflictError
	switch {
	case errors.As(err, &capErr):
		middleware.WriteErrorWithDetails(w, http.StatusConflict, middleware.ErrCapacityConflict, capErr.Error(),
			map[string]int{"required": capErr.Required, "available": capErr.Available})
	case errors.Is(err, parking.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
	case errors.Is(err, parking.ErrConflict):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, err.Error())
	case errors.Is(err, parking.ErrInvalidTransition):
		middleware.WriteError(w, http.StatusConflict, middleware.ErrInvalidTransition, err.Error())
	case errors.Is(err, parking.ErrInvalidStatus):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrInvalidStatus, err.Error())
	case errors.Is(err, parking.ErrValidation):
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, err.Error())
	default:
		logger.Error("http.handler.failed", "method", r.Method, "path", r.URL.Path, "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}
