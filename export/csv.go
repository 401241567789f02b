package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"sqlflow/engine"
)

// CSVWriter writes a result as comma-separated values with a header row,
// matching the teacher's own formatAsCSV.
type CSVWriter struct{}

func (w *CSVWriter) Write(result engine.Result, output io.Writer) error {
	cw := csv.NewWriter(output)
	defer cw.Flush()

	if err := cw.Write(result.Columns); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}

	for _, row := range result.Rows {
		record := make([]string, len(row))
		for i, val := range row {
			record[i] = formatValue(val)
		}

		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}

	return nil
}
