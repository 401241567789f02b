package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"sqlflow"
	"sqlflow/connector"
	"sqlflow/connector/csvconnector"
	"sqlflow/engine"
	"sqlflow/executor"
	"sqlflow/export"
	"sqlflow/parser"
	"sqlflow/planner"
	"sqlflow/state"
	"sqlflow/transform"
)

// defaultRegistry is the connector set every command wires in. csv is the
// one reference implementation this repo ships; additional connectors are
// external collaborators a deployment adds by building its own Registry.
func defaultRegistry() connector.Registry {
	return connector.Registry{
		"csv": csvconnector.Connector{},
	}
}

// parseVarFlags turns repeated "name=value" CLI flags into a map, silently
// dropping any entry with no "=".
func parseVarFlags(flags []string) map[string]string {
	vars := make(map[string]string, len(flags))

	for _, f := range flags {
		name, value, ok := strings.Cut(f, "=")
		if ok {
			vars[name] = value
		}
	}

	return vars
}

// resolveVariables merges cfg's variable files and declared defaults with
// cliVars on top, per the CLI > profile > .env > process precedence chain
// VariableResolver documents.
func resolveVariables(cfg *sqlflow.Config, cliVars map[string]string) (map[string]string, error) {
	resolver := sqlflow.NewVariableResolver(cliVars, cfg.Variables)

	merged := make(map[string]string)

	for _, f := range cfg.VariableFiles {
		if err := resolver.LoadDotEnv(f); err != nil {
			return nil, fmt.Errorf("loading variable file %q: %w", f, err)
		}

		for k, v := range resolver.DotEnv {
			merged[k] = v
		}
	}

	resolver.DotEnv = merged

	return resolver.Resolve(), nil
}

// loadPipeline reads scriptPath and parses it against vars.
func loadPipeline(scriptPath string, vars map[string]string) (*parser.Pipeline, error) {
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading script %q: %w", scriptPath, err)
	}

	return parser.Parse(string(data), scriptPath, vars, nil)
}

// buildPlan parses and plans scriptPath in one step, surfacing planning
// errors distinctly from fatal parse errors so callers can decide whether
// warnings are worth printing.
func buildPlan(scriptPath string, vars map[string]string) (*parser.Pipeline, *planner.Plan, []error, error) {
	pipeline, err := loadPipeline(scriptPath, vars)
	if err != nil {
		return nil, nil, nil, err
	}

	plan, warnings, err := planner.Build(pipeline, vars)
	if err != nil {
		return pipeline, nil, warnings, fmt.Errorf("%w: %w", ErrPlanningFailed, err)
	}

	return pipeline, plan, warnings, nil
}

// buildTasks converts a planned execution graph into schedulable tasks,
// wiring each step's generated SQL through the one engine the pipeline
// runs against.
func buildTasks(plan *planner.Plan, eng engine.Engine, backend state.Backend, registry connector.Registry, pipelineName string, retryLimit int, taskTimeout time.Duration) ([]*executor.Task, error) {
	handler := &transform.Handler{Engine: eng, State: backend, Pipeline: pipelineName}

	tasks := make([]*executor.Task, 0, len(plan.Steps))

	for _, step := range plan.Steps {
		task := &executor.Task{
			ID:          step.ID,
			DependsOn:   step.DependsOn,
			MaxAttempts: retryLimit,
			Timeout:     taskTimeout,
		}

		switch step.Type {
		case planner.StepSource:
			connectorType, _ := step.Metadata["connector_type"].(string)
			name, _ := step.Metadata["name"].(string)
			params, _ := step.Query.(map[string]any)

			task.Run = func(ctx context.Context) ([]state.WatermarkUpdate, error) {
				c, err := registry.Lookup(connectorType)
				if err != nil {
					return nil, err
				}

				_, err = c.Materialize(ctx, eng, name, params)

				return nil, err
			}

		case planner.StepLoad:
			tableName, _ := step.Metadata["table_name"].(string)
			sourceName, _ := step.Metadata["source_name"].(string)
			mode := parser.LoadMode(step.Mode)

			task.Run = func(ctx context.Context) ([]state.WatermarkUpdate, error) {
				result, err := handler.Load(ctx, transform.LoadRequest{
					TargetTable: tableName,
					SourceTable: sourceName,
					Mode:        mode,
					UpsertKeys:  step.UpsertKeys,
				})

				return watermarksOf(result), err
			}

		case planner.StepTransform:
			tableName, _ := step.Metadata["table_name"].(string)
			query, _ := step.Query.(string)
			mode := parser.LoadMode(step.Mode)

			task.Run = func(ctx context.Context) ([]state.WatermarkUpdate, error) {
				result, err := handler.CreateTableAs(ctx, transform.CTASRequest{
					TargetTable:      tableName,
					Query:            query,
					Mode:             mode,
					UpsertKeys:       step.UpsertKeys,
					TimeColumn:       step.TimeColumn,
					LookbackDuration: step.Lookback,
					Now:              time.Now(),
				})

				return watermarksOf(result), err
			}

		case planner.StepExport:
			destination, _ := step.Metadata["destination"].(string)
			format, _ := step.Metadata["format"].(string)
			query, _ := step.Query.(string)

			task.Run = func(ctx context.Context) ([]state.WatermarkUpdate, error) {
				return nil, runExport(ctx, eng, query, destination, format)
			}

		default:
			return nil, fmt.Errorf("cmd/sqlflow: unsupported step type %q", step.Type)
		}

		tasks = append(tasks, task)
	}

	return tasks, nil
}

func watermarksOf(result transform.LoadResult) []state.WatermarkUpdate {
	if result.Watermark == nil {
		return nil
	}

	return []state.WatermarkUpdate{*result.Watermark}
}

// runExport reads query (a literal SELECT or, for a bare table reference,
// a synthesized "SELECT * FROM table") and writes the result to destination
// in format via export.NewWriter.
func runExport(ctx context.Context, eng engine.Engine, query, destination, format string) error {
	sql := query
	if engine.ValidateIdentifier(query) == nil {
		sql = fmt.Sprintf("SELECT * FROM %s", query)
	}

	result, err := eng.Execute(ctx, sql, nil)
	if err != nil {
		return err
	}

	writer, err := export.NewWriter(export.Format(format))
	if err != nil {
		return err
	}

	f, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("export: create %q: %w", destination, err)
	}
	defer f.Close()

	return writer.Write(result, f)
}
