package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"sqlflow"
	"sqlflow/planner"
)

// ExplainCmd renders a pipeline's plan as a Markdown summary: one section
// per step naming its type, mode, and dependency edges. The generated text
// is round-tripped through goldmark purely to confirm it parses as valid
// CommonMark before printing; goldmark's own render output is discarded.
type ExplainCmd struct {
	Script string   `arg:"" help:"Path to the .sf pipeline script"`
	Var    []string `help:"Pipeline variable override, name=value (repeatable)" short:"e"`
}

func (cmd *ExplainCmd) Run(ctx *Context) error {
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

	markdown := renderPlanMarkdown(cmd.Script, plan, warnings)

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var discard bytes.Buffer
	if err := md.Convert([]byte(markdown), &discard); err != nil {
		return fmt.Errorf("failed to render plan as markdown: %w", err)
	}

	fmt.Print(markdown)

	return nil
}

func renderPlanMarkdown(script string, plan *planner.Plan, warnings []error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Plan: %s\n\n", script)

	if len(warnings) > 0 {
		fmt.Fprintf(&b, "## Warnings\n\n")

		for _, w := range warnings {
			fmt.Fprintf(&b, "- %v\n", w)
		}

		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Steps\n\n")

	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "### %s (%s)\n\n", step.ID, step.Type)

		if step.Mode != "" {
			fmt.Fprintf(&b, "- mode: %s\n", step.Mode)
		}

		if len(step.DependsOn) == 0 {
			b.WriteString("- depends on: (none)\n")
		} else {
			fmt.Fprintf(&b, "- depends on: %s\n", strings.Join(step.DependsOn, ", "))
		}

		b.WriteString("\n")
	}

	return b.String()
}
