package main

import (
	"fmt"

	"sqlflow"
	"sqlflow/engine"
	"sqlflow/engine/mysqlengine"
	"sqlflow/engine/pgengine"
	"sqlflow/engine/sqliteengine"
	"sqlflow/state"
	"sqlflow/state/sqlitestate"
)

// openEngine dispatches a Dialect to its engine.Engine adapter. This is the
// one place that knows every adapter package exists, so transform, executor,
// and introspect stay free of driver imports.
func openEngine(dialect sqlflow.Dialect, connection string) (engine.Engine, error) {
	switch dialect {
	case sqlflow.DialectSQLite, "":
		return sqliteengine.Open(connection)
	case sqlflow.DialectPostgres:
		return pgengine.Open(connection)
	case sqlflow.DialectMySQL:
		return mysqlengine.Open(connection)
	default:
		return nil, fmt.Errorf("%w: %s", sqlflow.ErrUnknownDialect, dialect)
	}
}

// openStateBackend dispatches a StateBackendConfig to its state.Backend
// implementation. Only sqlite is implemented in this tree; a postgres or
// mysql state store would need its own package the way sqlitestate exists
// for sqlite, and none has been built yet.
func openStateBackend(cfg sqlflow.StateBackendConfig) (state.Backend, error) {
	switch cfg.Driver {
	case "sqlite3", "":
		return sqlitestate.Open(cfg.Connection)
	default:
		return nil, fmt.Errorf("%w: %s", sqlflow.ErrUnknownDialect, cfg.Driver)
	}
}
