// Package runner provides task command executors.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/crabzie/task-console/internal/core/port"
	"go.uber.org/zap"
)

const listingTranscript = `total 64
drwxr-xr-x  12 user  staff   384 Jan 15 10:30 .
drwxr-xr-x   5 user  staff   160 Jan 10 14:22 ..
-rw-r--r--   1 user  staff   284 Jan 15 10:25 package.json
-rw-r--r--   1 user  staff   102 Jan 15 10:26 README.md
drwxr-xr-x   4 user  staff   128 Jan 15 10:28 src
drwxr-xr-x   3 user  staff    96 Jan 15 10:29 public

Command executed successfully!`

const serverTranscript = `> my-app@1.0.0 start
> node server.js

Server started on port 3000
Database connected successfully
Ready for requests...

Command executed successfully!`

// simulatedRunner never spawns a process. It always exits 0 after duration and
// answers with a canned transcript picked from the command text.
type simulatedRunner struct {
	duration time.Duration
	log      *zap.Logger
}

// NewSimulatedRunner creates a runner whose executions report the given duration
func NewSimulatedRunner(duration time.Duration, log *zap.Logger) port.Runner {
	return &simulatedRunner{
		duration: duration,
		log:      log,
	}
}

func (r *simulatedRunner) Run(ctx context.Context, task *domain.Task, startedAt time.Time) (port.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return port.RunResult{}, err
	}

	res := port.RunResult{
		ExitCode: 0,
		Duration: r.duration,
		Output:   Transcript(task, startedAt.Add(r.duration)),
	}
	r.log.Debug("Simulated run",
		zap.String("task_id", task.ID),
		zap.String("command", task.Command),
		zap.Duration("duration", r.duration))
	return res, nil
}

// Transcript renders the canned output for a task that finished at endedAt
func Transcript(task *domain.Task, endedAt time.Time) string {
	switch {
	case strings.Contains(task.Command, "ls -la"):
		return listingTranscript
	case strings.Contains(task.Command, "npm start"):
		return serverTranscript
	}
	return fmt.Sprintf("Command: %s\n\nOutput:\nTask %q executed successfully!\nExecution completed at %s\n\nExit Code: 0",
		task.Command, task.Name, endedAt.Format(time.RFC1123))
}
