// Package pgengine adapts sqlflow's engine.Engine interface onto
// PostgreSQL via jackc/pgx/v5's database/sql driver.
package pgengine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sqlflow"
	"sqlflow/engine"
)

// Engine is the PostgreSQL-backed engine.Engine adapter.
type Engine struct {
	db      *sql.DB
	handles engine.Handles
}

// Open opens a PostgreSQL connection pool for connection (a libpq DSN or
// URL, as pgx/v5's stdlib driver accepts).
func Open(connection string) (*Engine, error) {
	db, err := sql.Open("pgx", connection)
	if err != nil {
		return nil, &engine.ExecutionError{SQL: "(open pgx)", Err: err}
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, &engine.ExecutionError{SQL: "(ping pgx)", Err: err}
	}

	return &Engine{db: db}, nil
}

func New(db *sql.DB) *Engine { return &Engine{db: db} }

func (e *Engine) Dialect() sqlflow.Dialect { return sqlflow.DialectPostgres }

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

	const query = `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	`

	var count int

	if err := e.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, &engine.ExecutionError{SQL: query, Err: err}
	}

	return count > 0, nil
}

// GetSchema introspects a table's columns from information_schema, the
// portable path every Postgres-compatible engine supports.
func (e *Engine) GetSchema(ctx context.Context, name string) (*sqlflow.TableInfo, error) {
	if err := engine.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	const query = `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`

	rows, err := e.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, &engine.ExecutionError{SQL: query, Err: err}
	}
	defer rows.Close()

	info := &sqlflow.TableInfo{Name: name, Columns: map[string]*sqlflow.ColumnInfo{}}

	for rows.Next() {
		var (
			colName      string
			dataType     string
			isNullable   string
			defaultValue sql.NullString
		)

		if err := rows.Scan(&colName, &dataType, &isNullable, &defaultValue); err != nil {
			return nil, &engine.ExecutionError{SQL: query, Err: err}
		}

		col := &sqlflow.ColumnInfo{
			Name:     colName,
			DataType: dataType,
			Nullable: isNullable == "YES",
		}
		if defaultValue.Valid {
			col.DefaultValue = defaultValue.String
		}

		info.Columns[colName] = col
	}

	if err := rows.Err(); err != nil {
		return nil, &engine.ExecutionError{SQL: query, Err: err}
	}

	if err := attachPrimaryKeys(ctx, e.db, name, info); err != nil {
		return nil, err
	}

	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: %q", engine.ErrTableNotFound, name)
	}

	return info, nil
}

func attachPrimaryKeys(ctx context.Context, db *sql.DB, tableName string, info *sqlflow.TableInfo) error {
	const query = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = current_schema()
			AND tc.table_name = $1
	`

	rows, err := db.QueryContext(ctx, query, tableName)
	if err != nil {
		return &engine.ExecutionError{SQL: query, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var colName string
		if err := rows.Scan(&colName); err != nil {
			return &engine.ExecutionError{SQL: query, Err: err}
		}

		if col, ok := info.Columns[colName]; ok {
			col.IsPrimaryKey = true
		}
	}

	return rows.Err()
}
