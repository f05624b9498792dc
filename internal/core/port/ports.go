// Package port provides behavior interfaces that connects service & storage & handler.
package port

import (
	"context"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
)

// TaskRepository defines how the canonical task collection is held
type TaskRepository interface {
	// Insert puts a new task at the front of the collection
	Insert(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, query domain.ListQuery) (*domain.TaskPage, error)
	// Delete removes the task and its executions. Absent ids are not an error.
	Delete(ctx context.Context, id string) error
	// AppendExecution appends exec to its task and sets the task status in one step
	AppendExecution(ctx context.Context, exec domain.Execution, status domain.TaskStatus) error
	Executions(ctx context.Context, taskID string) ([]domain.Execution, error)
	Output(ctx context.Context, taskID, executionID string) (string, error)
}

// TaskService is the task store contract consumed by handlers, clients and the query cache
type TaskService interface {
	ListTasks(ctx context.Context, query domain.ListQuery) (*domain.TaskPage, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ExecuteTask(ctx context.Context, id string) (*domain.Execution, error)
	GetExecutions(ctx context.Context, taskID string) ([]domain.Execution, error)
	GetOutput(ctx context.Context, taskID, executionID string) (string, error)
}

// RunResult is the outcome of running a task command
type RunResult struct {
	ExitCode int
	Duration time.Duration
	Output   string
}

// Runner defines how a task command gets executed
type Runner interface {
	Run(ctx context.Context, task *domain.Task, startedAt time.Time) (RunResult, error)
}

// Delayer models the latency of a store operation
type Delayer interface {
	Delay(ctx context.Context, op string) error
}

// CacheEngine defines where the query cache keeps encoded values
type CacheEngine interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close(ctx context.Context) error
}

// EventPublisher defines how task lifecycle events leave the process
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.TaskEvent) error
}

// Store operation names, used as Delayer keys
const (
	OpList       = "list"
	OpGet        = "get"
	OpCreate     = "create"
	OpDelete     = "delete"
	OpExecute    = "execute"
	OpExecutions = "executions"
	OpOutput     = "output"
)
