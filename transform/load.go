// Package transform materializes LoadStep and SQLBlockStep directives into
// SQL against an engine.Engine, dispatching by (step type, mode) per
// §4.4: REPLACE, APPEND, UPSERT KEY(...), and INCREMENTAL BY col.
package transform

import (
	"context"
	"fmt"

	"sqlflow"
	"sqlflow/engine"
	"sqlflow/parser"
	"sqlflow/state"
)

// Handler drives generated SQL for one pipeline's steps through an engine,
// reading (but never writing) watermark state — writing the task's
// terminal commit, watermark included, is the executor's job so that the
// task-status-plus-watermark write stays one atomic state-backend call.
type Handler struct {
	Engine   engine.Engine
	State    state.Backend
	Pipeline string
}

// LoadRequest is one LoadStep's materialization request. SourceTable is
// already-queryable (a connector's staging table/view, or another
// pipeline-produced table) by the time it reaches the handler.
type LoadRequest struct {
	TargetTable string
	SourceTable string
	Mode        parser.LoadMode
	UpsertKeys  []string
}

// Load materializes req against h.Engine. REPLACE and APPEND require no
// watermark bookkeeping, so the returned LoadResult is always zero for
// those modes.
func (h *Handler) Load(ctx context.Context, req LoadRequest) (LoadResult, error) {
	if err := engine.ValidateIdentifier(req.TargetTable); err != nil {
		return LoadResult{}, err
	}

	if err := engine.ValidateIdentifier(req.SourceTable); err != nil {
		return LoadResult{}, err
	}

	switch req.Mode {
	case "", parser.ModeReplace:
		return LoadResult{}, h.loadReplace(ctx, req)
	case parser.ModeAppend:
		warnings, err := h.loadAppend(ctx, req)
		return LoadResult{Warnings: warnings}, err
	case parser.ModeUpsert:
		warnings, err := h.loadUpsert(ctx, req)
		return LoadResult{Warnings: warnings}, err
	default:
		return LoadResult{}, fmt.Errorf("transform: unsupported load mode %q", req.Mode)
	}
}

// LoadResult carries what the executor must fold into its task commit
// after a successful handler run. Nil Watermark means the mode produced
// none.
type LoadResult struct {
	Watermark *state.WatermarkUpdate
	Warnings  []error
}

func (h *Handler) loadReplace(ctx context.Context, req LoadRequest) error {
	dialect := h.Engine.Dialect()
	target := req.TargetTable
	source := req.SourceTable

	if sqlflow.Supports(dialect, sqlflow.FeatureCreateOrReplaceTable) {
		_, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM %s", target, source), nil)
		return wrapExec(err, target)
	}

	tx, err := h.Engine.BeginTx(ctx)
	if err != nil {
		return wrapExec(err, target)
	}

	if _, err := tx.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", target), nil); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	if _, err := tx.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", target, source), nil); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	return wrapExec(tx.Commit(), target)
}

func (h *Handler) loadAppend(ctx context.Context, req LoadRequest) ([]error, error) {
	target := req.TargetTable
	source := req.SourceTable

	exists, err := h.Engine.TableExists(ctx, target)
	if err != nil {
		return nil, wrapExec(err, target)
	}

	var warnings []error

	if !exists {
		_, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0", target, source), nil)
		if err != nil {
			return nil, wrapExec(err, target)
		}
	} else {
		warnings, err = evolveSchema(ctx, h.Engine, source, target)
		if err != nil {
			return warnings, err
		}
	}

	_, err = h.Engine.Execute(ctx, fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", target, source), nil)

	return warnings, wrapExec(err, target)
}

func (h *Handler) loadUpsert(ctx context.Context, req LoadRequest) ([]error, error) {
	target := req.TargetTable
	source := req.SourceTable

	if len(req.UpsertKeys) == 0 {
		return nil, &SchemaError{Table: target, Message: "UPSERT mode requires at least one KEY column"}
	}

	for _, key := range req.UpsertKeys {
		if err := engine.ValidateIdentifier(key); err != nil {
			return nil, err
		}
	}

	if err := requireUniqueKeys(ctx, h.Engine, source, req.UpsertKeys); err != nil {
		return nil, err
	}

	exists, err := h.Engine.TableExists(ctx, target)
	if err != nil {
		return nil, wrapExec(err, target)
	}

	var warnings []error

	if !exists {
		_, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0", target, source), nil)
		if err != nil {
			return nil, wrapExec(err, target)
		}
	} else {
		warnings, err = evolveSchema(ctx, h.Engine, source, target)
		if err != nil {
			return warnings, err
		}
	}

	return warnings, deleteThenInsert(ctx, h.Engine, target, source, req.UpsertKeys)
}

// deleteThenInsert implements §4.4's UPSERT pattern: rows in target whose
// key tuple also appears in source are deleted, then every source row is
// inserted, so non-key columns always end up holding the source's values.
func deleteThenInsert(ctx context.Context, eng engine.Engine, target, source string, keys []string) error {
	tx, err := eng.BeginTx(ctx)
	if err != nil {
		return wrapExec(err, target)
	}

	deleteSQL := fmt.Sprintf(
		"DELETE FROM %s WHERE (%s) IN (SELECT %s FROM %s)",
		target, columnList(keys), columnList(keys), source,
	)

	if _, err := tx.Execute(ctx, deleteSQL, nil); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", target, source)
	if _, err := tx.Execute(ctx, insertSQL, nil); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	return wrapExec(tx.Commit(), target)
}

// requireUniqueKeys is the §4.4 precondition check: report SchemaError
// before touching target when the KEY columns are not actually unique in
// source, instead of silently dropping duplicate rows during the delete.
func requireUniqueKeys(ctx context.Context, eng engine.Engine, source string, keys []string) error {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT 1 FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS sf_dupes",
		source, columnList(keys),
	)

	res, err := eng.Execute(ctx, query, nil)
	if err != nil {
		return wrapExec(err, source)
	}

	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return nil
	}

	count, ok := asInt64(res.Rows[0][0])
	if ok && count > 0 {
		return &SchemaError{Table: source, Message: fmt.Sprintf("KEY (%s) is not unique in source", columnList(keys))}
	}

	return nil
}

func columnList(cols []string) string {
	out := ""

	for i, c := range cols {
		if i > 0 {
			out += ", "
		}

		out += c
	}

	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

func wrapExec(err error, table string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("transform: materializing %q: %w", table, err)
}
