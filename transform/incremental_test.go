package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlflow/engine/sqliteengine"
	"sqlflow/parser"
	"sqlflow/state"
	"sqlflow/state/sqlitestate"
)

func minuteTime(m int) time.Time {
	return time.Date(2026, 1, 1, 0, m, 0, 0, time.UTC)
}

// TestCreateTableAs_Incremental_FirstRun is scenario D: no prior watermark,
// source has rows at t0..t5, first run loads all of them and the watermark
// advances to t5.
func TestCreateTableAs_Incremental_FirstRun(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	backend, err := sqlitestate.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	_, err = eng.Execute(ctx, "CREATE TABLE src (ts TEXT, v INTEGER)", nil)
	require.NoError(t, err)

	for i := 0; i <= 5; i++ {
		_, err = eng.Execute(ctx, "INSERT INTO src (ts, v) VALUES (?, ?)", []any{minuteTime(i).Format(time.RFC3339Nano), i})
		require.NoError(t, err)
	}

	h := &Handler{Engine: eng, State: backend, Pipeline: "p"}

	result, err := h.CreateTableAs(ctx, CTASRequest{
		TargetTable: "m",
		Query:       "SELECT ts, v FROM src WHERE ts > @start_dt AND ts <= @end_dt",
		Mode:        parser.ModeIncremental,
		TimeColumn:  "ts",
		Now:         minuteTime(10),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Watermark)
	assert.Equal(t, minuteTime(5).Format(time.RFC3339Nano), result.Watermark.Value)

	res, err := eng.Execute(ctx, "SELECT count(*) FROM m", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Rows[0][0])
}

// TestCreateTableAs_Incremental_SecondRunWithLookback is scenario E: a
// second run with LOOKBACK re-processes the trailing window without
// duplicating rows and advances the watermark to the newest row.
func TestCreateTableAs_Incremental_SecondRunWithLookback(t *testing.T) {
	eng, err := sqliteengine.Open(":memory:")
	require.NoError(t, err)
	defer eng.Close()

	backend, err := sqlitestate.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	_, err = eng.Execute(ctx, "CREATE TABLE src (ts TEXT, v INTEGER)", nil)
	require.NoError(t, err)

	for i := 0; i <= 5; i++ {
		_, err = eng.Execute(ctx, "INSERT INTO src (ts, v) VALUES (?, ?)", []any{minuteTime(i).Format(time.RFC3339Nano), i})
		require.NoError(t, err)
	}

	h := &Handler{Engine: eng, State: backend, Pipeline: "p"}

	req := CTASRequest{
		TargetTable: "m",
		Query:       "SELECT ts, v FROM src WHERE ts > @start_dt AND ts <= @end_dt",
		Mode:        parser.ModeIncremental,
		TimeColumn:  "ts",
		Now:         minuteTime(10),
	}

	first, err := h.CreateTableAs(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.Watermark)

	require.NoError(t, backend.CreateRun("run-1", "hash", []byte(`{}`)))
	require.NoError(t, backend.CommitTask(state.TaskCommit{
		RunID:      "run-1",
		TaskID:     "transform_m",
		State:      state.TaskSuccess,
		Attempt:    1,
		Watermarks: []state.WatermarkUpdate{*first.Watermark},
	}))

	// A new row and a late-arriving row land in source before the next run.
	_, err = eng.Execute(ctx, "INSERT INTO src (ts, v) VALUES (?, ?)", []any{minuteTime(6).Format(time.RFC3339Nano), 6})
	require.NoError(t, err)

	lateRow := minuteTime(3).Add(30 * time.Second)
	_, err = eng.Execute(ctx, "INSERT INTO src (ts, v) VALUES (?, ?)", []any{lateRow.Format(time.RFC3339Nano), 30})
	require.NoError(t, err)

	req.LookbackDuration = "2m"
	req.Now = minuteTime(20)

	second, err := h.CreateTableAs(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, second.Watermark)
	assert.Equal(t, minuteTime(6).Format(time.RFC3339Nano), second.Watermark.Value)

	res, err := eng.Execute(ctx, "SELECT count(*) FROM m", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Rows[0][0])

	dup, err := eng.Execute(ctx, "SELECT count(*) FROM (SELECT ts FROM m GROUP BY ts HAVING count(*) > 1)", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dup.Rows[0][0])
}
