// Package sqlitestate is the default state.Backend: an embedded SQLite
// database holding the sqlflow_runs, sqlflow_task_statuses, and
// sqlflow_watermarks tables. Its sqlflow_ prefix namespaces it away from
// any analytic tables a pipeline shares the same database file with.
package sqlitestate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sqlflow"
	"sqlflow/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS sqlflow_runs (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	plan_hash TEXT NOT NULL,
	metadata TEXT,
	plan_json BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sqlflow_task_statuses (
	run_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	state TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	error TEXT,
	started_at TEXT,
	ended_at TEXT,
	PRIMARY KEY (run_id, task_id)
);

CREATE TABLE IF NOT EXISTS sqlflow_watermarks (
	pipeline TEXT NOT NULL,
	table_name TEXT NOT NULL,
	column_name TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (pipeline, table_name, column_name)
);
`

// Backend is the sqlite-backed state.Backend.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at connection and
// ensures the state schema exists.
func Open(connection string) (*Backend, error) {
	db, err := sql.Open("sqlite3", connection)
	if err != nil {
		return nil, &state.StateError{Op: "open", Err: err}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &state.StateError{Op: "create schema", Err: err}
	}

	return &Backend{db: db}, nil
}

// New wraps an already-open *sql.DB and ensures the schema exists, for
// tests that share a single in-memory handle.
func New(db *sql.DB) (*Backend, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, &state.StateError{Op: "create schema", Err: err}
	}

	return &Backend{db: db}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) CreateRun(runID, planHash string, planJSON []byte) error {
	_, err := b.db.Exec(
		`INSERT INTO sqlflow_runs (run_id, status, started_at, plan_hash, metadata, plan_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(state.RunRunning), time.Now().UTC().Format(time.RFC3339Nano), planHash, "{}", planJSON,
	)
	if err != nil {
		return &state.StateError{Op: "create run", Err: err}
	}

	return nil
}

// CommitTask applies a task's terminal state and every watermark it
// advanced in one sql.Tx, so a reader never observes one without the
// other.
func (b *Backend) CommitTask(commit state.TaskCommit) error {
	tx, err := b.db.Begin()
	if err != nil {
		return &state.StateError{Op: "commit task: begin", Err: err}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = tx.Exec(
		`INSERT INTO sqlflow_task_statuses (run_id, task_id, state, attempt, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, task_id) DO UPDATE SET
			state = excluded.state,
			attempt = excluded.attempt,
			error = excluded.error,
			ended_at = excluded.ended_at`,
		commit.RunID, commit.TaskID, string(commit.State), commit.Attempt, commit.Error, now, now,
	)
	if err != nil {
		tx.Rollback()
		return &state.StateError{Op: "commit task: task status", Err: err}
	}

	for _, wm := range commit.Watermarks {
		_, err = tx.Exec(
			`INSERT INTO sqlflow_watermarks (pipeline, table_name, column_name, value, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(pipeline, table_name, column_name) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at`,
			wm.Pipeline, wm.Table, wm.Column, wm.Value, now,
		)
		if err != nil {
			tx.Rollback()
			return &state.StateError{Op: "commit task: watermark", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &state.StateError{Op: "commit task: commit", Err: err}
	}

	return nil
}

// GetWatermark is a two-tier lookup: the metadata table first; callers that
// need the SELECT MAX(col) fallback (when no watermark has ever been
// recorded) issue that query themselves through the engine, since this
// package has no dependency on a particular analytic engine.
func (b *Backend) GetWatermark(pipeline, table, column string) (string, bool, error) {
	var value string

	err := b.db.QueryRow(
		`SELECT value FROM sqlflow_watermarks WHERE pipeline = ? AND table_name = ? AND column_name = ?`,
		pipeline, table, column,
	).Scan(&value)

	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, &state.StateError{Op: "get watermark", Err: err}
	}

	return value, true, nil
}

func (b *Backend) ResetWatermark(pipeline, table, column string) error {
	_, err := b.db.Exec(
		`DELETE FROM sqlflow_watermarks WHERE pipeline = ? AND table_name = ? AND column_name = ?`,
		pipeline, table, column,
	)
	if err != nil {
		return &state.StateError{Op: "reset watermark", Err: err}
	}

	return nil
}

func (b *Backend) LoadRun(runID string) (*state.Run, []state.TaskStatus, []byte, error) {
	var (
		run        state.Run
		startedAt  string
		endedAt    sql.NullString
		metaJSON   string
		planJSON   []byte
		statusText string
	)

	err := b.db.QueryRow(
		`SELECT run_id, status, started_at, ended_at, plan_hash, metadata, plan_json FROM sqlflow_runs WHERE run_id = ?`,
		runID,
	).Scan(&run.RunID, &statusText, &startedAt, &endedAt, &run.PlanHash, &metaJSON, &planJSON)

	switch {
	case err == sql.ErrNoRows:
		return nil, nil, nil, fmt.Errorf("%w: %s", sqlflow.ErrRunNotFound, runID)
	case err != nil:
		return nil, nil, nil, &state.StateError{Op: "load run", Err: err}
	}

	run.Status = state.RunStatus(statusText)
	run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)

	if endedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
		run.EndedAt = &t
	}

	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &run.Metadata)
	}

	rows, err := b.db.Query(
		`SELECT run_id, task_id, state, attempt, error, started_at, ended_at
		 FROM sqlflow_task_statuses WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, nil, nil, &state.StateError{Op: "load run: task statuses", Err: err}
	}
	defer rows.Close()

	var statuses []state.TaskStatus

	for rows.Next() {
		var (
			ts         state.TaskStatus
			stateText  string
			errText    sql.NullString
			startedRaw sql.NullString
			endedRaw   sql.NullString
		)

		if err := rows.Scan(&ts.RunID, &ts.TaskID, &stateText, &ts.Attempt, &errText, &startedRaw, &endedRaw); err != nil {
			return nil, nil, nil, &state.StateError{Op: "load run: scan task status", Err: err}
		}

		ts.State = state.TaskState(stateText)
		ts.Error = errText.String

		if startedRaw.Valid {
			t, _ := time.Parse(time.RFC3339Nano, startedRaw.String)
			ts.StartedAt = &t
		}

		if endedRaw.Valid {
			t, _ := time.Parse(time.RFC3339Nano, endedRaw.String)
			ts.EndedAt = &t
		}

		statuses = append(statuses, ts)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, nil, &state.StateError{Op: "load run: task status rows", Err: err}
	}

	return &run, statuses, planJSON, nil
}

func (b *Backend) ListRuns() ([]state.Run, error) {
	rows, err := b.db.Query(`SELECT run_id, status, started_at, ended_at, plan_hash, metadata FROM sqlflow_runs ORDER BY started_at`)
	if err != nil {
		return nil, &state.StateError{Op: "list runs", Err: err}
	}
	defer rows.Close()

	var runs []state.Run

	for rows.Next() {
		var (
			run        state.Run
			statusText string
			startedAt  string
			endedAt    sql.NullString
			metaJSON   string
		)

		if err := rows.Scan(&run.RunID, &statusText, &startedAt, &endedAt, &run.PlanHash, &metaJSON); err != nil {
			return nil, &state.StateError{Op: "list runs: scan", Err: err}
		}

		run.Status = state.RunStatus(statusText)
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)

		if endedAt.Valid {
			t, _ := time.Parse(time.RFC3339Nano, endedAt.String)
			run.EndedAt = &t
		}

		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &run.Metadata)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, &state.StateError{Op: "list runs: rows", Err: err}
	}

	return runs, nil
}
