// Package csvconnector is the one concrete connector.Connector this repo
// ships: it reads a local CSV file and loads it into a table through the
// same parameterized engine.Execute path every other write in this
// codebase uses, so a SOURCE TYPE CSV directive has somewhere real to
// land during tests without requiring a live external service.
package csvconnector

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"

	"sqlflow"
	"sqlflow/engine"
)

var (
	// ErrPathRequired indicates the CSV source's params carried no "path" key.
	ErrPathRequired = errors.New("csvconnector: \"path\" param is required")
	// ErrEmptyFile indicates the CSV file had no header row to derive columns from.
	ErrEmptyFile = errors.New("csvconnector: file has no header row")
)

// Connector implements connector.Connector for local CSV files.
type Connector struct{}

// Materialize reads the CSV file named by params["path"], creates
// tableName with one TEXT column per header field (unless it already
// exists), and inserts every data row, using bound parameters for every
// value per the identifier/placeholder split invariant 7 requires.
func (Connector) Materialize(ctx context.Context, eng engine.Engine, tableName string, params map[string]any) (int64, error) {
	if err := engine.ValidateIdentifier(tableName); err != nil {
		return 0, err
	}

	path, _ := params["path"].(string)
	if strings.TrimSpace(path) == "" {
		return 0, ErrPathRequired
	}

	hasHeader := true
	if v, ok := params["has_header"].(bool); ok {
		hasHeader = v
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("csvconnector: open %q: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("csvconnector: read %q: %w", path, err)
	}

	if len(records) == 0 {
		return 0, ErrEmptyFile
	}

	var (
		header []string
		rows   [][]string
	)

	if hasHeader {
		header = records[0]
		rows = records[1:]
	} else {
		header = make([]string, len(records[0]))
		for i := range header {
			header[i] = fmt.Sprintf("col_%d", i+1)
		}

		rows = records
	}

	for _, col := range header {
		if err := engine.ValidateIdentifier(col); err != nil {
			return 0, err
		}
	}

	exists, err := eng.TableExists(ctx, tableName)
	if err != nil {
		return 0, err
	}

	if !exists {
		columnDefs := make([]string, len(header))
		for i, col := range header {
			columnDefs[i] = col + " TEXT"
		}

		createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(columnDefs, ", "))
		if _, err := eng.Execute(ctx, createSQL, nil); err != nil {
			return 0, err
		}
	}

	placeholders := make([]string, len(header))
	for i := range placeholders {
		placeholders[i] = placeholder(eng.Dialect(), i+1)
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(header, ", "), strings.Join(placeholders, ", "),
	)

	var count int64

	for _, row := range rows {
		params := make([]any, len(header))

		for i := range header {
			if i < len(row) {
				params[i] = row[i]
			}
		}

		if _, err := eng.Execute(ctx, insertSQL, params); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

// placeholder mirrors transform's dialect-aware bind-parameter rendering:
// Postgres wants numbered $N placeholders, the other two dialects take a
// bare ?.
func placeholder(dialect sqlflow.Dialect, n int) string {
	if dialect == sqlflow.DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}

	return "?"
}
