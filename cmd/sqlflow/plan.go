package main

import (
	"encoding/json"
	"fmt"
	"os"

	"sqlflow"
)

// PlanCmd builds a pipeline's execution plan and prints it as JSON, without
// touching an engine or state backend.
type PlanCmd struct {
	Script string   `arg:"" help:"Path to the .sf pipeline script"`
	Var    []string `help:"Pipeline variable override, name=value (repeatable)" short:"e"`
}

func (cmd *PlanCmd) Run(ctx *Context) error {
	cfg, err := sqlflow.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	vars, err := resolveVariables(cfg, parseVarFlags(cmd.Var))
	if err != nil {
		return err
	}

	_, plan, warnings, err := buildPlan(cmd.Script, vars)
	if err != nil {
		return err
	}

	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}

	out, err := json.MarshalIndent(plan.Steps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	os.Stdout.Write(out)
	os.Stdout.WriteString("\n")

	return nil
}
