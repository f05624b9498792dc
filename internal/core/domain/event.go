package domain

import "time"

type EventType string

const (
	EventTaskCreated  EventType = "task.created"
	EventTaskDeleted  EventType = "task.deleted"
	EventTaskExecuted EventType = "task.executed"
)

// TaskEvent is emitted after a mutation of the task collection succeeds
type TaskEvent struct {
	Type        EventType  `json:"type"`
	TaskID      string     `json:"taskId"`
	ExecutionID string     `json:"executionId,omitempty"`
	Status      TaskStatus `json:"status,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
}
