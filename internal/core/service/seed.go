package service

import (
	"context"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/crabzie/task-console/internal/core/port"
)

// Seed loads the two demo tasks shown on a fresh console: a completed listing
// task with one execution and a pending server task.
func Seed(ctx context.Context, repo port.TaskRepository, runner port.Runner, now time.Time) error {
	listing := &domain.Task{
		ID:         "1",
		Name:       "List Files",
		Owner:      "John Doe",
		Command:    "ls -la",
		CreateTime: now,
		Status:     domain.TaskStatusPending,
		Executions: []domain.Execution{},
	}
	server := &domain.Task{
		ID:         "2",
		Name:       "Start Server",
		Owner:      "Jane Smith",
		Command:    "npm start",
		CreateTime: now,
		Status:     domain.TaskStatusPending,
		Executions: []domain.Execution{},
	}

	// inserted in reverse so that "1" ends up first
	for _, t := range []*domain.Task{server, listing} {
		if err := repo.Insert(ctx, t); err != nil {
			return err
		}
	}

	res, err := runner.Run(ctx, listing, now)
	if err != nil {
		return err
	}
	end := now.Add(res.Duration)
	execStatus, taskStatus := domain.StatusForExitCode(res.ExitCode)
	return repo.AppendExecution(ctx, domain.Execution{
		ID:        domain.ExecutionIDPrefix + "1",
		TaskID:    listing.ID,
		Status:    execStatus,
		StartTime: now,
		EndTime:   &end,
		ExitCode:  &res.ExitCode,
		Output:    res.Output,
	}, taskStatus)
}
