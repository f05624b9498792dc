package domain

import (
	"strings"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusError   ExecutionStatus = "error"
)

// ExecutionIDPrefix keeps execution ids disjoint from task ids
const ExecutionIDPrefix = "exec-"

// Task represents a named shell command and its execution history
type Task struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Owner      string      `json:"owner"`
	Command    string      `json:"command"`
	CreateTime time.Time   `json:"createTime"`
	Status     TaskStatus  `json:"status"`
	Executions []Execution `json:"executions"`
}

// Execution is one run record of a Task
type Execution struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"taskId"`
	Status    ExecutionStatus `json:"status"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	ExitCode  *int            `json:"exitCode,omitempty"`
	Output    string          `json:"-"` // served by the output endpoint only
}

// Clone returns a deep copy so callers never share the canonical executions slice
func (t *Task) Clone() *Task {
	c := *t
	c.Executions = make([]Execution, len(t.Executions))
	for i := range t.Executions {
		c.Executions[i] = t.Executions[i].Clone()
	}
	return &c
}

// Clone returns a copy that does not alias the optional fields
func (e Execution) Clone() Execution {
	if e.EndTime != nil {
		end := *e.EndTime
		e.EndTime = &end
	}
	if e.ExitCode != nil {
		code := *e.ExitCode
		e.ExitCode = &code
	}
	return e
}

// Matches reports whether name, owner or command contains term, ignoring case.
// term must already be lower-cased.
func (t *Task) Matches(term string) bool {
	return strings.Contains(strings.ToLower(t.Name), term) ||
		strings.Contains(strings.ToLower(t.Owner), term) ||
		strings.Contains(strings.ToLower(t.Command), term)
}

// StatusForExitCode maps a finished run onto execution and task status
func StatusForExitCode(code int) (ExecutionStatus, TaskStatus) {
	if code == 0 {
		return ExecutionStatusSuccess, TaskStatusCompleted
	}
	return ExecutionStatusError, TaskStatusFailed
}
