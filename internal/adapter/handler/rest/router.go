// Package rest exposes the task store over HTTP with a chi router.
package rest

import (
	"net/http"

	"github.com/crabzie/task-console/internal/core/port"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts every task route on a fresh chi router
func NewRouter(svc port.TaskService, log *zap.Logger) http.Handler {
	h := &taskHandler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTask)
			r.Delete("/", h.deleteTask)
			r.Post("/execute", h.executeTask)
			r.Get("/executions", h.getExecutions)
			r.Get("/executions/{execId}/output", h.getOutput)
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
