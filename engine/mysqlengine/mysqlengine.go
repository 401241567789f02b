// Package mysqlengine adapts sqlflow's engine.Engine interface onto MySQL
// via go-sql-driver/mysql.
package mysqlengine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"sqlflow"
	"sqlflow/engine"
)

// Engine is the MySQL-backed engine.Engine adapter.
type Engine struct {
	db      *sql.DB
	handles engine.Handles
}

// Open opens a MySQL connection pool for a go-sql-driver/mysql DSN.
func Open(connection string) (*Engine, error) {
	db, err := sql.Open("mysql", connection)
	if err != nil {
		return nil, &engine.ExecutionError{SQL: "(open mysql)", Err: err}
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, &engine.ExecutionError{SQL: "(ping mysql)", Err: err}
	}

	return &Engine{db: db}, nil
}

func New(db *sql.DB) *Engine { return &Engine{db: db} }

func (e *Engine) Dialect() sqlflow.Dialect { return sqlflow.DialectMySQL }

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
		SELECT count(*) FROM information_schema.TABLES
		WHERE table_schema = database() AND table_name = ?
	`

	var count int

	if err := e.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, &engine.ExecutionError{SQL: query, Err: err}
	}

	return count > 0, nil
}

// GetSchema introspects a table's columns from information_schema.COLUMNS,
// using COLUMN_KEY = 'PRI' to flag primary-key columns the same way the
// teacher's mysql extractor does.
func (e *Engine) GetSchema(ctx context.Context, name string) (*sqlflow.TableInfo, error) {
	if err := engine.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	const query = `
		SELECT column_name, data_type, is_nullable, column_key, column_default
		FROM information_schema.COLUMNS
		WHERE table_schema = database() AND table_name = ?
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
			columnKey    string
			defaultValue sql.NullString
		)

		if err := rows.Scan(&colName, &dataType, &isNullable, &columnKey, &defaultValue); err != nil {
			return nil, &engine.ExecutionError{SQL: query, Err: err}
		}

		col := &sqlflow.ColumnInfo{
			Name:         colName,
			DataType:     dataType,
			Nullable:     isNullable == "YES",
			IsPrimaryKey: columnKey == "PRI",
		}
		if defaultValue.Valid {
			col.DefaultValue = defaultValue.String
		}

		info.Columns[colName] = col
	}

	if err := rows.Err(); err != nil {
		return nil, &engine.ExecutionError{SQL: query, Err: err}
	}

	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("%w: %q", engine.ErrTableNotFound, name)
	}

	return info, nil
}
