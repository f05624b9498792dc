package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/crabzie/task-console/internal/core/domain"
	"github.com/urfave/cli/v3"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	// shown instead of an execution's output when it cannot be fetched
	outputFallback = "Failed to load output. Please try again."
)

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List tasks, most recent first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
			&cli.IntFlag{Name: "limit", Usage: "Tasks per page", Value: domain.DefaultPageLimit},
			&cli.StringFlag{Name: "search", Usage: "Case-insensitive match on name, owner or command"},
		},
		Action: runList,
	}
}

func newShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show task details",
		ArgsUsage: "<task_id>",
		Action:    runShow,
	}
}

func newCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a task",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true},
			&cli.StringFlag{Name: "owner", Required: true},
			&cli.StringFlag{Name: "command", Required: true},
		},
		Action: runCreate,
	}
}

func newDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a task and its executions",
		ArgsUsage: "<task_id>",
		Action:    runDelete,
	}
}

func newExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Execute a task",
		ArgsUsage: "<task_id>",
		Action:    runExec,
	}
}

func newExecutionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "executions",
		Usage:     "List the executions of a task",
		ArgsUsage: "<task_id>",
		Action:    runExecutions,
	}
}

func newOutputCommand() *cli.Command {
	return &cli.Command{
		Name:      "output",
		Usage:     "Print the output of one execution",
		ArgsUsage: "<task_id> <execution_id>",
		Action:    runOutput,
	}
}

func runList(ctx context.Context, cmd *cli.Command) error {
	page, err := newClient(ctx, cmd).ListTasks(ctx, domain.ListQuery{
		Page:   cmd.Int("page"),
		Limit:  cmd.Int("limit"),
		Search: cmd.String("search"),
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	out := cmd.Root().Writer
	if len(page.Tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tNAME\tOWNER\tCOMMAND\tCREATED")
	for _, t := range page.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Status,
			t.Name,
			t.Owner,
			t.Command,
			t.CreateTime.Local().Format(timeLayout),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nShowing %d of %d tasks (page %d)\n", len(page.Tasks), page.Total, cmd.Int("page"))
	return nil
}

func runShow(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskctl show <task_id>")
	}

	t, err := newClient(ctx, cmd).GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	out := cmd.Root().Writer
	fmt.Fprintf(out, "ID:          %s\n", t.ID)
	fmt.Fprintf(out, "Name:        %s\n", t.Name)
	fmt.Fprintf(out, "Owner:       %s\n", t.Owner)
	fmt.Fprintf(out, "Command:     %s\n", t.Command)
	fmt.Fprintf(out, "Status:      %s\n", t.Status)
	fmt.Fprintf(out, "Created:     %s\n", t.CreateTime.Local().Format(timeLayout))
	fmt.Fprintf(out, "Executions:  %d\n", len(t.Executions))
	return nil
}

func runCreate(ctx context.Context, cmd *cli.Command) error {
	t, err := newClient(ctx, cmd).CreateTask(ctx, domain.CreateTaskRequest{
		Name:    cmd.String("name"),
		Owner:   cmd.String("owner"),
		Command: cmd.String("command"),
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Task %s created.\n", t.ID)
	return nil
}

func runDelete(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskctl delete <task_id>")
	}

	if err := newClient(ctx, cmd).DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Task %s deleted.\n", taskID)
	return nil
}

func runExec(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskctl exec <task_id>")
	}

	exec, err := newClient(ctx, cmd).ExecuteTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("execute task: %w", err)
	}

	out := cmd.Root().Writer
	fmt.Fprintf(out, "Execution %s finished with status %s", exec.ID, exec.Status)
	if exec.ExitCode != nil {
		fmt.Fprintf(out, " (exit code %d)", *exec.ExitCode)
	}
	fmt.Fprintln(out)
	return nil
}

func runExecutions(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: taskctl executions <task_id>")
	}

	execs, err := newClient(ctx, cmd).GetExecutions(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get executions: %w", err)
	}

	out := cmd.Root().Writer
	if len(execs) == 0 {
		fmt.Fprintln(out, "No executions yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tEXIT")
	for _, e := range execs {
		duration, exit := "-", "-"
		if e.EndTime != nil {
			duration = e.EndTime.Sub(e.StartTime).String()
		}
		if e.ExitCode != nil {
			exit = fmt.Sprint(*e.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			e.Status,
			e.StartTime.Local().Format(timeLayout),
			duration,
			exit,
		)
	}
	return w.Flush()
}

func runOutput(ctx context.Context, cmd *cli.Command) error {
	taskID, execID := cmd.Args().Get(0), cmd.Args().Get(1)
	if taskID == "" || execID == "" {
		return fmt.Errorf("usage: taskctl output <task_id> <execution_id>")
	}

	output, err := newClient(ctx, cmd).GetOutput(ctx, taskID, execID)
	if err != nil {
		fmt.Fprintln(cmd.Root().ErrWriter, outputFallback)
		return fmt.Errorf("get output: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, output)
	return nil
}
