package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/crabzie/task-console/cmd/taskctl/commands"
	"github.com/joho/godotenv"
)

func main() {
	// a missing .env is fine for a CLI
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := commands.NewRootCommand()
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
