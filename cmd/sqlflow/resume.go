package main

import (
	"context"
	"encoding/json"
	"fmt"

	"sqlflow"
	"sqlflow/executor"
	"sqlflow/planner"
	"sqlflow/state"
)

// ResumeCmd re-dispatches a previously created run from its persisted plan
// and task statuses: tasks already SUCCESS are skipped, everything else is
// retried from PENDING, per executor.Scheduler.Resume's contract.
type ResumeCmd struct {
	RunID    string `arg:"" help:"Run id to resume"`
	Pipeline string `help:"Pipeline name recorded against watermark state" default:""`
}

func (cmd *ResumeCmd) Run(ctx *Context) error {
	cfg, err := sqlflow.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	eng, err := openEngine(cfg.Dialect, cfg.StateBackend.Connection)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close()

	backend, err := openStateBackend(cfg.StateBackend)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	defer backend.Close()

	_, statuses, planJSON, err := backend.LoadRun(cmd.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", cmd.RunID, err)
	}

	var steps []*planner.ExecutionStep
	if err := json.Unmarshal(planJSON, &steps); err != nil {
		return fmt.Errorf("failed to deserialize run %s's plan: %w", cmd.RunID, err)
	}

	plan := &planner.Plan{Steps: steps}

	tasks, err := buildTasks(plan, eng, backend, defaultRegistry(), cmd.Pipeline, cfg.Execution.RetryLimit, cfg.Execution.TaskTimeout)
	if err != nil {
		return err
	}

	scheduler := &executor.Scheduler{
		MaxParallelism: cfg.Execution.MaxParallelism,
		RetryBackoff:   cfg.Execution.RetryBackoff,
		FailFast:       cfg.Execution.FailFast,
		Engine:         eng,
		State:          backend,
		RunID:          cmd.RunID,
	}

	scheduler.Resume(statuses)

	summary, err := scheduler.Run(context.Background(), tasks)
	if err != nil {
		return fmt.Errorf("failed to run scheduler: %w", err)
	}

	printSummary(cmd.RunID, summary)

	if summary.Status != state.RunSuccess {
		return fmt.Errorf("run %s finished with status %s", cmd.RunID, summary.Status)
	}

	return nil
}
