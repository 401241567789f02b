// Package export materializes an engine.Result to an external destination
// in one of the formats an EXPORT directive names.
package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"sqlflow/engine"
)

// Writer formats an engine.Result and writes it to output.
type Writer interface {
	Write(result engine.Result, output io.Writer) error
}

// Format is the EXPORT directive's FORMAT value, lowercased.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatXML  Format = "xml"
)

// NewWriter resolves a Format to its Writer, defaulting to CSV when format
// is empty (EXPORT's documented default).
func NewWriter(format Format) (Writer, error) {
	switch Format(strings.ToLower(string(format))) {
	case "", FormatCSV:
		return &CSVWriter{}, nil
	case FormatJSON:
		return &JSONWriter{}, nil
	case FormatYAML:
		return &YAMLWriter{}, nil
	case FormatXML:
		return &XMLWriter{RootName: "rows", RowName: "row"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// rowsToMaps converts a result's columnar rows into one map per row, the
// shape every non-CSV writer serializes from.
func rowsToMaps(result engine.Result) []map[string]any {
	maps := make([]map[string]any, 0, len(result.Rows))

	for _, row := range result.Rows {
		m := make(map[string]any, len(result.Columns))

		for i, col := range result.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}

		maps = append(maps, m)
	}

	return maps
}

// formatValue renders a single cell the same way across writers that need
// a plain string form (CSV, XML text content).
func formatValue(val any) string {
	if val == nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return decimal.NewFromFloat(v).String()
	case float32:
		return decimal.NewFromFloat32(v).String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
