package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"sqlflow"
	"sqlflow/executor"
	"sqlflow/state"
)

// RunCmd parses, plans, and executes a pipeline script from scratch.
type RunCmd struct {
	Script   string   `arg:"" help:"Path to the .sf pipeline script"`
	Var      []string `help:"Pipeline variable override, name=value (repeatable)" short:"e"`
	Pipeline string   `help:"Pipeline name recorded against watermark state" default:""`
}

func (cmd *RunCmd) Run(ctx *Context) error {
	cfg, err := sqlflow.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	vars, err := resolveVariables(cfg, parseVarFlags(cmd.Var))
	if err != nil {
		return err
	}

	pipeline, plan, warnings, err := buildPlan(cmd.Script, vars)
	if err != nil {
		return err
	}

	for _, w := range warnings {
		color.Yellow("warning: %v", w)
	}

	if ctx.Verbose {
		color.Blue("Planned %d step(s) from %s", len(plan.Steps), cmd.Script)
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

	pipelineName := cmd.Pipeline
	if pipelineName == "" {
		pipelineName = pipeline.SourceFile
	}

	runID := uuid.NewString()

	planJSON, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}

	planHash := sha256.Sum256(planJSON)

	if err := backend.CreateRun(runID, hex.EncodeToString(planHash[:]), planJSON); err != nil {
		return fmt.Errorf("failed to create run record: %w", err)
	}

	tasks, err := buildTasks(plan, eng, backend, defaultRegistry(), pipelineName, cfg.Execution.RetryLimit, cfg.Execution.TaskTimeout)
	if err != nil {
		return err
	}

	scheduler := &executor.Scheduler{
		MaxParallelism: cfg.Execution.MaxParallelism,
		RetryBackoff:   cfg.Execution.RetryBackoff,
		FailFast:       cfg.Execution.FailFast,
		Engine:         eng,
		State:          backend,
		RunID:          runID,
	}

	summary, err := scheduler.Run(context.Background(), tasks)
	if err != nil {
		return fmt.Errorf("failed to run scheduler: %w", err)
	}

	printSummary(runID, summary)

	if summary.Status != state.RunSuccess {
		return fmt.Errorf("run %s finished with status %s", runID, summary.Status)
	}

	return nil
}

func printSummary(runID string, summary *executor.RunSummary) {
	if summary.Status == state.RunSuccess {
		color.Green("Run %s completed successfully (%d task(s))", runID, len(summary.Tasks))
		return
	}

	color.Red("Run %s finished with status %s", runID, summary.Status)

	for _, id := range summary.Skipped {
		color.Yellow("  skipped: %s", id)
	}
}
