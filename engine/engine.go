// Package engine adapts sqlflow's generated SQL onto a concrete database
// driver. Every adapter speaks the same narrow Engine interface so the
// transform and executor packages never branch on driver type directly —
// they consult sqlflow.Capabilities instead.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"sqlflow"
)

// Result is the normalized shape returned by Execute, covering both
// row-returning queries and row-affecting statements.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	LastInsertID int64
}

// Tx is a single-transaction handle. Callers must call Commit or Rollback
// exactly once.
type Tx interface {
	Execute(ctx context.Context, sql string, params []any) (Result, error)
	Commit() error
	Rollback() error
}

// Engine is the narrow surface the transform and executor packages drive
// generated SQL through.
type Engine interface {
	Execute(ctx context.Context, sql string, params []any) (Result, error)
	TableExists(ctx context.Context, name string) (bool, error)
	GetSchema(ctx context.Context, name string) (*sqlflow.TableInfo, error)
	BeginTx(ctx context.Context) (Tx, error)
	// Cancel aborts the in-flight query registered under handle, per
	// §6's `cancel(handle)` collaborator method. It is a no-op returning
	// ErrUnknownHandle if handle names no query currently running.
	Cancel(handle string) error
	Dialect() sqlflow.Dialect
	Close() error
}

// ErrUnknownHandle is returned by Cancel for a handle with no in-flight query.
var ErrUnknownHandle = errors.New("engine: unknown cancellation handle")

type handleContextKey struct{}

// WithHandle attaches handle to ctx so that whichever adapter eventually
// runs a query under ctx registers its cancellation under handle, letting
// a caller elsewhere abort that specific query via Engine.Cancel(handle).
func WithHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, handleContextKey{}, handle)
}

func handleFromContext(ctx context.Context) (string, bool) {
	h, ok := ctx.Value(handleContextKey{}).(string)
	return h, ok
}

// Handles tracks the cancel func of each in-flight query by handle. Every
// adapter embeds one so Cancel has something to act on.
type Handles struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (h *Handles) register(handle string, cancel context.CancelFunc) {
	if handle == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancels == nil {
		h.cancels = make(map[string]context.CancelFunc)
	}

	h.cancels[handle] = cancel
}

func (h *Handles) unregister(handle string) {
	if handle == "" {
		return
	}

	h.mu.Lock()
	delete(h.cancels, handle)
	h.mu.Unlock()
}

// Cancel aborts the in-flight query registered under handle, if any.
func (h *Handles) Cancel(handle string) error {
	h.mu.Lock()
	cancel, ok := h.cancels[handle]
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownHandle, handle)
	}

	cancel()

	return nil
}

// identifierPattern is the safety gate spec'd for every generated
// identifier: letters, digits, underscore, not leading with a digit.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedStandalone lists keywords that are destructive when they appear
// as a bare identifier on their own (e.g. a "table name" of literally
// "DROP"), as opposed to appearing inside a larger identifier.
var reservedStandalone = map[string]bool{
	"DROP":     true,
	"DELETE":   true,
	"TRUNCATE": true,
	"ALTER":    true,
	"GRANT":    true,
	"REVOKE":   true,
}

// ValidateIdentifier rejects any candidate table/column name that doesn't
// match identifierPattern or that is, standing alone, a destructive
// keyword. It never rejects based on case alone elsewhere in a name.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", sqlflow.ErrIdentifierRejected, name)
	}

	upper := name

	for i := 0; i < len(upper); i++ {
		if upper[i] >= 'a' && upper[i] <= 'z' {
			upper = toUpperASCII(name)
			break
		}
	}

	if reservedStandalone[upper] {
		return fmt.Errorf("%w: %q is a reserved destructive keyword", sqlflow.ErrIdentifierRejected, name)
	}

	return nil
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}

	return string(b)
}

// SQLTx adapts a *sql.Tx to the Tx interface. Dialect-specific adapters in
// the engine/sqliteengine, engine/pgengine, and engine/mysqlengine
// subpackages embed or wrap this rather than re-implementing the
// query-vs-exec split three times.
type SQLTx struct {
	DB *sql.Tx
}

func (t *SQLTx) Execute(ctx context.Context, query string, params []any) (Result, error) {
	return Exec(ctx, t.DB, query, params, nil)
}

func (t *SQLTx) Commit() error   { return t.DB.Commit() }
func (t *SQLTx) Rollback() error { return t.DB.Rollback() }

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// isQuery is a coarse heuristic consistent with the teacher's own
// write-vs-read SQL classification: a leading SELECT (or WITH ... SELECT)
// is a query, everything else is executed for its side effect.
func isQuery(sqlText string) bool {
	trimmed := sqlText
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}

	upper := toUpperASCII(firstWord(trimmed))

	return upper == "SELECT" || upper == "WITH" || upper == "PRAGMA" || upper == "EXPLAIN"
}

func firstWord(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' || s[i] == '\n' || s[i] == '\t' || s[i] == '(' {
			return s[:i]
		}
	}

	return s
}

// Exec runs query against e, dispatching to QueryContext or ExecContext
// based on whether the statement returns rows, and normalizes either
// outcome into a Result. When ctx carries a handle (see WithHandle), the
// query runs under a derived cancelable context registered in handles so a
// task-level timeout or a fail-fast run cancellation can abort it via
// handles.Cancel without waiting for the driver to notice ctx itself ended.
func Exec(ctx context.Context, e Execer, query string, params []any, handles *Handles) (Result, error) {
	queryCtx := ctx

	if handle, ok := handleFromContext(ctx); ok && handles != nil {
		var cancel context.CancelFunc

		queryCtx, cancel = context.WithCancel(ctx)
		handles.register(handle, cancel)

		defer handles.unregister(handle)
		defer cancel()
	}

	if isQuery(query) {
		rows, err := e.QueryContext(queryCtx, query, params...)
		if err != nil {
			return Result{}, &ExecutionError{SQL: query, Err: err}
		}
		defer rows.Close()

		return scanRows(rows, query)
	}

	res, err := e.ExecContext(queryCtx, query, params...)
	if err != nil {
		return Result{}, &ExecutionError{SQL: query, Err: err}
	}

	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()

	return Result{RowsAffected: affected, LastInsertID: lastID}, nil
}

func scanRows(rows *sql.Rows, query string) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, &ExecutionError{SQL: query, Err: err}
	}

	result := Result{Columns: columns}

	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		if err := rows.Scan(pointers...); err != nil {
			return Result{}, &ExecutionError{SQL: query, Err: err}
		}

		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return Result{}, &ExecutionError{SQL: query, Err: err}
	}

	return result, nil
}
