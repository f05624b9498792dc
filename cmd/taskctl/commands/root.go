// Package commands holds the taskctl subcommands.
package commands

import (
	"context"

	"github.com/crabzie/task-console/internal/adapter/client/rest"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const defaultServer = "http://localhost:8080"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "taskctl",
		Usage: "Manage tasks on a task console server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "Task console base URL",
				Value:   defaultServer,
				Sources: cli.EnvVars("TASKCTL_SERVER"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			newListCommand(),
			newShowCommand(),
			newCreateCommand(),
			newDeleteCommand(),
			newExecCommand(),
			newExecutionsCommand(),
			newOutputCommand(),
			newWatchCommand(),
		},
	}
}

func newLogger(cmd *cli.Command) *zap.Logger {
	if !cmd.Bool("debug") {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newClient(_ context.Context, cmd *cli.Command) *rest.Client {
	return rest.NewClient(cmd.String("server"), nil, newLogger(cmd).Named("Client"))
}
