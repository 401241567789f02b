// Package introspect points an engine adapter at a live database and emits
// SOURCE/LOAD directive stubs for its tables, so a human authoring a .sf
// script has a starting point instead of a blank file. It is a convenience
// generator only: nothing here runs on the execution path, and it never
// runs during a normal sqlflow run.
package introspect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sqlflow"
	"sqlflow/engine"
)

// Importer discovers tables through an already-opened engine adapter and
// converts them into sqlflow's unified schema types.
type Importer struct {
	eng engine.Engine
	cfg Config
}

// NewImporter builds an Importer over an already-connected engine. The
// caller owns the engine's lifetime (opening and closing it).
func NewImporter(eng engine.Engine, cfg Config) *Importer {
	return &Importer{eng: eng, cfg: cfg}
}

// listTablesQuery is the dialect-specific query that enumerates base table
// names. It mirrors the table-existence probes in the engine/*engine
// adapters rather than introducing a fourth schema-introspection path.
func listTablesQuery(dialect sqlflow.Dialect) (string, error) {
	switch dialect {
	case sqlflow.DialectSQLite:
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name", nil
	case sqlflow.DialectPostgres:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE' ORDER BY table_name", nil
	case sqlflow.DialectMySQL:
		return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}
}

// ListTables returns the names of every base table in the connected
// database that survives the configured include/exclude filters.
func (i *Importer) ListTables(ctx context.Context) ([]string, error) {
	query, err := listTablesQuery(i.eng.Dialect())
	if err != nil {
		return nil, err
	}

	result, err := i.eng.Execute(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("introspect: list tables: %w", err)
	}

	names := make([]string, 0, len(result.Rows))

	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}

		name, ok := row[0].(string)
		if !ok || name == "" {
			continue
		}

		if i.cfg.included(name) {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	if len(names) == 0 {
		return nil, ErrNoTables
	}

	return names, nil
}

// Convert fetches the full schema for every table ListTables returns and
// groups it into one sqlflow.DatabaseSchema, matching the shape a pipeline's
// schema-evolution step already consumes.
func (i *Importer) Convert(ctx context.Context) (sqlflow.DatabaseSchema, error) {
	names, err := i.ListTables(ctx)
	if err != nil {
		return sqlflow.DatabaseSchema{}, err
	}

	schema := sqlflow.DatabaseSchema{
		DatabaseInfo: sqlflow.DatabaseInfo{Type: string(i.eng.Dialect())},
	}

	for _, name := range names {
		table, err := i.eng.GetSchema(ctx, name)
		if err != nil {
			return sqlflow.DatabaseSchema{}, fmt.Errorf("introspect: schema for %q: %w", name, err)
		}

		schema.Tables = append(schema.Tables, table)
	}

	return schema, nil
}

// GenerateStubs renders a SOURCE directive for the connection and one LOAD
// directive per discovered table, in the textual .sf syntax spec.md §3/§6
// defines. It is deliberately plain text, not an AST round-trip through
// parser.Pipeline: the output is meant to be hand-edited before it is ever
// parsed for real.
func (i *Importer) GenerateStubs(ctx context.Context) (string, error) {
	schema, err := i.Convert(ctx)
	if err != nil {
		return "", err
	}

	sourceName := i.cfg.SourceName
	if sourceName == "" {
		sourceName = "introspected_source"
	}

	connector := i.cfg.ConnectorType
	if connector == "" {
		connector = string(i.eng.Dialect())
	}

	var b strings.Builder

	fmt.Fprintf(&b, "SOURCE %s TYPE %s PARAMS {\"dsn\": %q};\n\n", sourceName, connector, i.cfg.DSN())

	for _, table := range schema.Tables {
		fmt.Fprintf(&b, "-- %d column(s)\n", len(table.Columns))
		fmt.Fprintf(&b, "LOAD %s FROM %s MODE REPLACE;\n\n", table.Name, sourceName)
	}

	return b.String(), nil
}
