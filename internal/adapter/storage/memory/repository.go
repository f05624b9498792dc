// Package memory provides the in-process task collection and cache engine.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/crabzie/task-console/internal/core/port"
	"go.uber.org/zap"
)

/**
 * taskRepository holds the canonical task collection.
 * tasks is kept most-recent-first, byID indexes the same pointers.
 * Every read hands out a deep copy, so the only way to change a task
 * is through the repository methods.
 */
type taskRepository struct {
	mu    sync.RWMutex
	tasks []*domain.Task
	byID  map[string]*domain.Task
	log   *zap.Logger
}

// NewTaskRepository creates an empty in-memory repository
func NewTaskRepository(log *zap.Logger) port.TaskRepository {
	return &taskRepository{
		byID: make(map[string]*domain.Task),
		log:  log,
	}
}

func (r *taskRepository) Insert(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[task.ID]; ok {
		return fmt.Errorf("task %q already exists", task.ID)
	}

	t := task.Clone()
	r.tasks = slices.Insert(r.tasks, 0, t)
	r.byID[t.ID] = t

	r.log.Debug("Inserted task", zap.String("task_id", t.ID), zap.Int("size", len(r.tasks)))
	return nil
}

func (r *taskRepository) GetByID(_ context.Context, id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

func (r *taskRepository) List(_ context.Context, query domain.ListQuery) (*domain.TaskPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := r.tasks
	if term := query.Term(); term != "" {
		filtered = make([]*domain.Task, 0, len(r.tasks))
		for _, t := range r.tasks {
			if t.Matches(term) {
				filtered = append(filtered, t)
			}
		}
	}

	start, end := query.Bounds(len(filtered))
	page := &domain.TaskPage{
		Tasks: make([]*domain.Task, 0, end-start),
		Total: len(filtered),
	}
	for _, t := range filtered[start:end] {
		page.Tasks = append(page.Tasks, t.Clone())
	}
	return page, nil
}

func (r *taskRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return nil
	}
	delete(r.byID, id)
	r.tasks = slices.DeleteFunc(r.tasks, func(t *domain.Task) bool { return t.ID == id })

	r.log.Debug("Deleted task", zap.String("task_id", id), zap.Int("size", len(r.tasks)))
	return nil
}

func (r *taskRepository) AppendExecution(_ context.Context, exec domain.Execution, status domain.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[exec.TaskID]
	if !ok {
		return fmt.Errorf("task %q: %w", exec.TaskID, domain.ErrNotFound)
	}
	t.Executions = append(t.Executions, exec.Clone())
	t.Status = status
	return nil
}

func (r *taskRepository) Executions(_ context.Context, taskID string) ([]domain.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[taskID]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", taskID, domain.ErrNotFound)
	}
	return t.Clone().Executions, nil
}

func (r *taskRepository) Output(_ context.Context, taskID, executionID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[taskID]
	if !ok {
		return "", fmt.Errorf("task %q: %w", taskID, domain.ErrNotFound)
	}
	for _, e := range t.Executions {
		if e.ID == executionID {
			return e.Output, nil
		}
	}
	return "", fmt.Errorf("execution %q of task %q: %w", executionID, taskID, domain.ErrNotFound)
}
