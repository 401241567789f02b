package transform

import (
	"context"
	"fmt"
	"time"

	"sqlflow"
	"sqlflow/engine"
	"sqlflow/parser"
	"sqlflow/state"
)

// CTASRequest is one SQLBlockStep's (CREATE TABLE AS) materialization
// request.
type CTASRequest struct {
	TargetTable      string
	Query            string
	Mode             parser.LoadMode
	UpsertKeys       []string
	TimeColumn       string
	LookbackDuration string
	Now              time.Time // injected so INCREMENTAL windows are deterministic in tests
}

// CreateTableAs materializes req.Query into req.TargetTable per mode.
func (h *Handler) CreateTableAs(ctx context.Context, req CTASRequest) (LoadResult, error) {
	if err := engine.ValidateIdentifier(req.TargetTable); err != nil {
		return LoadResult{}, err
	}

	switch req.Mode {
	case "", parser.ModeReplace:
		return LoadResult{}, h.ctasReplace(ctx, req)
	case parser.ModeAppend:
		return LoadResult{}, h.ctasAppend(ctx, req)
	case parser.ModeUpsert:
		return LoadResult{}, h.ctasUpsert(ctx, req)
	case parser.ModeIncremental:
		return h.ctasIncremental(ctx, req)
	default:
		return LoadResult{}, fmt.Errorf("transform: unsupported create-table-as mode %q", req.Mode)
	}
}

func (h *Handler) ctasReplace(ctx context.Context, req CTASRequest) error {
	dialect := h.Engine.Dialect()
	target := req.TargetTable

	if sqlflow.Supports(dialect, sqlflow.FeatureCreateOrReplaceTable) {
		_, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", target, req.Query), nil)
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

	if _, err := tx.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", target, req.Query), nil); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	return wrapExec(tx.Commit(), target)
}

func (h *Handler) ctasAppend(ctx context.Context, req CTASRequest) error {
	target := req.TargetTable

	exists, err := h.Engine.TableExists(ctx, target)
	if err != nil {
		return wrapExec(err, target)
	}

	if !exists {
		_, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", target, req.Query), nil)
		return wrapExec(err, target)
	}

	_, err = h.Engine.Execute(ctx, fmt.Sprintf("INSERT INTO %s %s", target, req.Query), nil)

	return wrapExec(err, target)
}

// ctasUpsert stages req.Query into a temporary table, then applies the
// same delete-then-insert pattern LOAD UPSERT uses, per §4.4's
// "materialize to a temporary view, then MERGE by keys".
func (h *Handler) ctasUpsert(ctx context.Context, req CTASRequest) error {
	target := req.TargetTable

	if len(req.UpsertKeys) == 0 {
		return &SchemaError{Table: target, Message: "UPSERT mode requires at least one KEY column"}
	}

	for _, key := range req.UpsertKeys {
		if err := engine.ValidateIdentifier(key); err != nil {
			return err
		}
	}

	staging := stagingName(target)

	if _, err := h.Engine.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", staging), nil); err != nil {
		return wrapExec(err, staging)
	}

	if _, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", staging, req.Query), nil); err != nil {
		return wrapExec(err, staging)
	}

	defer h.Engine.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", staging), nil) //nolint:errcheck

	if err := requireUniqueKeys(ctx, h.Engine, staging, req.UpsertKeys); err != nil {
		return err
	}

	exists, err := h.Engine.TableExists(ctx, target)
	if err != nil {
		return wrapExec(err, target)
	}

	if !exists {
		_, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s WHERE 1=0", target, staging), nil)
		if err != nil {
			return wrapExec(err, target)
		}
	}

	return deleteThenInsert(ctx, h.Engine, target, staging, req.UpsertKeys)
}

func stagingName(target string) string {
	return "sf_stage_" + target
}

// ctasIncremental implements §4.4's six-step time-window algorithm.
func (h *Handler) ctasIncremental(ctx context.Context, req CTASRequest) (LoadResult, error) {
	target := req.TargetTable

	if req.TimeColumn == "" {
		return LoadResult{}, &SchemaError{Table: target, Message: "INCREMENTAL mode requires BY <column>"}
	}

	if err := engine.ValidateIdentifier(req.TimeColumn); err != nil {
		return LoadResult{}, err
	}

	lookback, err := parseLookback(req.LookbackDuration)
	if err != nil {
		return LoadResult{}, err
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	watermarkValue, hasWatermark, err := h.State.GetWatermark(h.Pipeline, target, req.TimeColumn)
	if err != nil {
		return LoadResult{}, fmt.Errorf("transform: reading watermark for %q.%q: %w", target, req.TimeColumn, err)
	}

	start := beginningOfTime

	if hasWatermark {
		parsed, err := time.Parse(time.RFC3339Nano, watermarkValue)
		if err != nil {
			return LoadResult{}, fmt.Errorf("transform: parsing watermark %q: %w", watermarkValue, err)
		}

		start = parsed.Add(-lookback)
	}

	end := now

	query, params := substituteTimeMacros(req.Query, h.Engine.Dialect(), start, end)

	exists, err := h.Engine.TableExists(ctx, target)
	if err != nil {
		return LoadResult{}, wrapExec(err, target)
	}

	if !exists {
		if _, err := h.Engine.Execute(ctx, fmt.Sprintf("CREATE TABLE %s AS %s", target, query), params); err != nil {
			return LoadResult{}, wrapExec(err, target)
		}
	} else {
		if err := h.incrementalWindowSwap(ctx, target, req.TimeColumn, query, params, start); err != nil {
			return LoadResult{}, err
		}
	}

	newWatermark, err := h.maxColumnInWindow(ctx, target, req.TimeColumn, start, end)
	if err != nil {
		return LoadResult{}, err
	}

	if newWatermark == "" {
		return LoadResult{}, nil
	}

	return LoadResult{
		Watermark: &state.WatermarkUpdate{
			Pipeline: h.Pipeline,
			Table:    target,
			Column:   req.TimeColumn,
			Value:    newWatermark,
		},
	}, nil
}

// incrementalWindowSwap is §4.4 step 5: delete the stale window, insert the
// freshly queried rows, all inside one transaction so readers never see a
// partially-replaced window.
func (h *Handler) incrementalWindowSwap(ctx context.Context, target, timeColumn, query string, params []any, start time.Time) error {
	tx, err := h.Engine.BeginTx(ctx)
	if err != nil {
		return wrapExec(err, target)
	}

	deletePlaceholder := placeholder(h.Engine.Dialect(), 1)
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s >= %s", target, timeColumn, deletePlaceholder)

	if _, err := tx.Execute(ctx, deleteSQL, []any{start.Format(time.RFC3339Nano)}); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s %s", target, query)
	if _, err := tx.Execute(ctx, insertSQL, params); err != nil {
		tx.Rollback()
		return wrapExec(err, target)
	}

	return wrapExec(tx.Commit(), target)
}

// maxColumnInWindow is §4.4 step 6's follow-up query, scoped to the window
// just processed so concurrent writers outside the window don't perturb
// the new watermark.
func (h *Handler) maxColumnInWindow(ctx context.Context, target, timeColumn string, start, end time.Time) (string, error) {
	dialect := h.Engine.Dialect()

	query := fmt.Sprintf(
		"SELECT MAX(%s) FROM %s WHERE %s >= %s AND %s <= %s",
		timeColumn, target, timeColumn, placeholder(dialect, 1), timeColumn, placeholder(dialect, 2),
	)

	res, err := h.Engine.Execute(ctx, query, []any{start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano)})
	if err != nil {
		return "", wrapExec(err, target)
	}

	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 || res.Rows[0][0] == nil {
		return "", nil
	}

	switch v := res.Rows[0][0].(type) {
	case string:
		return v, nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
