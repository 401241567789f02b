package main

import (
	"fmt"

	"sqlflow"
)

// ListRunsCmd prints every persisted run, oldest start time first, as a plain
// table: id, status, start time, and end time (if finished).
type ListRunsCmd struct{}

func (cmd *ListRunsCmd) Run(ctx *Context) error {
	cfg, err := sqlflow.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	backend, err := openStateBackend(cfg.StateBackend)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	defer backend.Close()

	runs, err := backend.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	fmt.Printf("%-40s %-10s %-25s %-25s\n", "RUN ID", "STATUS", "STARTED", "ENDED")

	for _, run := range runs {
		ended := ""
		if run.EndedAt != nil {
			ended = run.EndedAt.Format("2006-01-02T15:04:05Z07:00")
		}

		fmt.Printf("%-40s %-10s %-25s %-25s\n",
			run.RunID, run.Status, run.StartedAt.Format("2006-01-02T15:04:05Z07:00"), ended)
	}

	return nil
}
