// Package sqliteengine adapts sqlflow's engine.Engine interface onto an
// embedded SQLite database via mattn/go-sqlite3, the default engine used
// when no other dialect is configured.
package sqliteengine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"sqlflow"
	"sqlflow/engine"
)

// Engine is the sqlite-backed engine.Engine adapter.
type Engine struct {
	db      *sql.DB
	handles engine.Handles
}

// Open opens a SQLite database file (or ":memory:") and returns an Engine
// bound to it.
func Open(connection string) (*Engine, error) {
	db, err := sql.Open("sqlite3", connection)
	if err != nil {
		return nil, &engine.ExecutionError{SQL: "(open sqlite3)", Err: err}
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, &engine.ExecutionError{SQL: "(ping sqlite3)", Err: err}
	}

	return &Engine{db: db}, nil
}

// New wraps an already-open *sql.DB, useful for tests that want an
// in-memory handle they control the lifecycle of.
func New(db *sql.DB) *Engine {
	return &Engine{db: db}
}

func (e *Engine) Dialect() sqlflow.Dialect { return sqlflow.DialectSQLite }

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) Execute(ctx context.Context, sqlText string, params []any) (engine.Result, error) {
	return engine.Exec(ctx, e.db, sqlText, params, &e.handles)
}

// Cancel aborts the in-flight query registered under handle, if any.
func (e *Engine) Cancel(handle string) error { return e.handles.Cancel(handle) }

func (e *Engine) BeginTx(ctx context.Context) (engine.Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &engine.ExecutionError{SQL: "(begin transaction)", Err: err}
	}

	return &engine.SQLTx{DB: tx}, nil
}

func (e *Engine) TableExists(ctx context.Context, name string) (bool, error) {
	if err := engine.ValidateIdentifier(name); err != nil {
		return false, err
	}

	var count int

	row := e.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err := row.Scan(&count); err != nil {
		return false, &engine.ExecutionError{SQL: "(sqlite_master lookup)", Err: err}
	}

	return count > 0, nil
}

// GetSchema introspects a table via PRAGMA table_info, the only portable
// way SQLite exposes column metadata (it has no information_schema).
func (e *Engine) GetSchema(ctx context.Context, name string) (*sqlflow.TableInfo, error) {
	if err := engine.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return nil, &engine.ExecutionError{SQL: "(PRAGMA table_info)", Err: err}
	}
	defer rows.Close()

	info := &sqlflow.TableInfo{Name: name, Columns: map[string]*sqlflow.ColumnInfo{}}

	for rows.Next() {
		var (
			cid          int
			colName      string
			dataType     string
			notNull      int
			defaultValue sql.NullString
			pk           int
		)

		if err := rows.Scan(&cid, &colName, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return nil, &engine.ExecutionError{SQL: "(PRAGMA table_info scan)", Err: err}
		}

		col := &sqlflow.ColumnInfo{
			Name:         colName,
			DataType:     dataType,
			Nullable:     notNull == 0,
			IsPrimaryKey: pk == 1,
		}
		if defaultValue.Valid {
			col.DefaultValue = defaultValue.String
		}

		info.Columns[colName] = col
	}

	if err := rows.Err(); err != nil {
		return nil, &engine.ExecutionError{SQL: "(PRAGMA table_info rows)", Err: err}
	}

	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: %q", engine.ErrTableNotFound, name)
	}

	return info, nil
}
