package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *taskHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// StatusFor maps a store error onto its HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
