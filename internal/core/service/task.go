package service

import (
	"context"
	"fmt"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/crabzie/task-console/internal/core/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type taskService struct {
	repo      port.TaskRepository
	runner    port.Runner
	delay     port.Delayer
	publisher port.EventPublisher
	log       *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewTaskService creates the task store. publisher may be nil.
func NewTaskService(
	repo port.TaskRepository,
	runner port.Runner,
	delay port.Delayer,
	publisher port.EventPublisher,
	log *zap.Logger,
) port.TaskService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &taskService{
		repo:      repo,
		runner:    runner,
		delay:     delay,
		publisher: publisher,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (s *taskService) ListTasks(ctx context.Context, query domain.ListQuery) (*domain.TaskPage, error) {
	if err := s.delay.Delay(ctx, port.OpList); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, query)
}

func (s *taskService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	if err := s.delay.Delay(ctx, port.OpGet); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *taskService) CreateTask(ctx context.Context, req domain.CreateTaskRequest) (*domain.Task, error) {
	if err := s.delay.Delay(ctx, port.OpCreate); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:         s.newID(),
		Name:       req.Name,
		Owner:      req.Owner,
		Command:    req.Command,
		CreateTime: s.now(),
		Status:     domain.TaskStatusPending,
		Executions: []domain.Execution{},
	}
	if err := s.repo.Insert(ctx, task); err != nil {
		s.log.Error("Failed to insert task", zap.String("task_id", task.ID), zap.Error(err))
		return nil, err
	}

	s.log.Info("Task created", zap.String("task_id", task.ID), zap.String("name", task.Name))
	s.publish(ctx, &domain.TaskEvent{
		Type:       domain.EventTaskCreated,
		TaskID:     task.ID,
		Status:     task.Status,
		OccurredAt: task.CreateTime,
	})
	return task, nil
}

func (s *taskService) DeleteTask(ctx context.Context, id string) error {
	if err := s.delay.Delay(ctx, port.OpDelete); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info("Task deleted", zap.String("task_id", id))
	s.publish(ctx, &domain.TaskEvent{
		Type:       domain.EventTaskDeleted,
		TaskID:     id,
		OccurredAt: s.now(),
	})
	return nil
}

func (s *taskService) ExecuteTask(ctx context.Context, id string) (*domain.Execution, error) {
	if err := s.delay.Delay(ctx, port.OpExecute); err != nil {
		return nil, err
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	start := s.now()
	res, err := s.runner.Run(ctx, task, start)
	if err != nil {
		return nil, fmt.Errorf("run task %q: %w", id, err)
	}

	end := start.Add(res.Duration)
	code := res.ExitCode
	execStatus, taskStatus := domain.StatusForExitCode(code)
	exec := domain.Execution{
		ID:        domain.ExecutionIDPrefix + s.newID(),
		TaskID:    id,
		Status:    execStatus,
		StartTime: start,
		EndTime:   &end,
		ExitCode:  &code,
		Output:    res.Output,
	}

	// the task may have been deleted while the runner was busy
	if err := s.repo.AppendExecution(ctx, exec, taskStatus); err != nil {
		return nil, err
	}

	s.log.Info("Task executed",
		zap.String("task_id", id),
		zap.String("execution_id", exec.ID),
		zap.Int("exit_code", code),
		zap.String("status", string(taskStatus)))
	s.publish(ctx, &domain.TaskEvent{
		Type:        domain.EventTaskExecuted,
		TaskID:      id,
		ExecutionID: exec.ID,
		Status:      taskStatus,
		OccurredAt:  end,
	})
	return &exec, nil
}

func (s *taskService) GetExecutions(ctx context.Context, taskID string) ([]domain.Execution, error) {
	if err := s.delay.Delay(ctx, port.OpExecutions); err != nil {
		return nil, err
	}
	return s.repo.Executions(ctx, taskID)
}

func (s *taskService) GetOutput(ctx context.Context, taskID, executionID string) (string, error) {
	if err := s.delay.Delay(ctx, port.OpOutput); err != nil {
		return "", err
	}
	return s.repo.Output(ctx, taskID, executionID)
}

// publish never fails the mutation that triggered it
func (s *taskService) publish(ctx context.Context, event *domain.TaskEvent) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("Failed to publish task event",
			zap.String("type", string(event.Type)),
			zap.String("task_id", event.TaskID),
			zap.Error(err))
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *domain.TaskEvent) error { return nil }
