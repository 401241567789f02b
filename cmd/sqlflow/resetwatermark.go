package main

import (
	"fmt"

	"github.com/fatih/color"

	"sqlflow"
)

// ResetWatermarkCmd clears a table's persisted incremental-load cursor, so
// the next INCREMENTAL run starts its window at the beginning of time (a
// full re-scan) instead of resuming where the last run left off.
type ResetWatermarkCmd struct {
	Pipeline string `arg:"" help:"Pipeline name the watermark is recorded under"`
	Table    string `arg:"" help:"Target table name"`
	Column   string `arg:"" help:"Time column the watermark tracks"`
}

func (cmd *ResetWatermarkCmd) Run(ctx *Context) error {
	cfg, err := sqlflow.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	backend, err := openStateBackend(cfg.StateBackend)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	defer backend.Close()

	if err := backend.ResetWatermark(cmd.Pipeline, cmd.Table, cmd.Column); err != nil {
		return fmt.Errorf("failed to reset watermark: %w", err)
	}

	color.Green("Watermark cleared for %s.%s.%s", cmd.Pipeline, cmd.Table, cmd.Column)

	return nil
}
