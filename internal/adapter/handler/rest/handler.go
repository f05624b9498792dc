package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/crabzie/task-console/internal/core/port"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type taskHandler struct {
	svc port.TaskService
	log *zap.Logger
}

func (h *taskHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	query, err := parseListQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.svc.ListTasks(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *taskHandler) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *taskHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("decode request body: %v: %w", err, domain.ErrValidation))
		return
	}

	task, err := h.svc.CreateTask(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *taskHandler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *taskHandler) executeTask(w http.ResponseWriter, r *http.Request) {
	exec, err := h.svc.ExecuteTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *taskHandler) getExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := h.svc.GetExecutions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

func (h *taskHandler) getOutput(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetOutput(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "execId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

// parseListQuery reads page, limit and search. Missing values take their defaults.
func parseListQuery(r *http.Request) (domain.ListQuery, error) {
	values := r.URL.Query()
	query := domain.ListQuery{Page: 1, Limit: domain.DefaultPageLimit, Search: values.Get("search")}

	for name, dst := range map[string]*int{"page": &query.Page, "limit": &query.Limit} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return query, &domain.ValidationError{Fields: []string{name}}
		}
		*dst = n
	}
	return query, nil
}
