package export

import (
	"encoding/json"
	"io"

	"sqlflow/engine"
)

// JSONWriter writes a result as a JSON array of objects keyed by column name.
type JSONWriter struct{}

func (w *JSONWriter) Write(result engine.Result, output io.Writer) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")

	return enc.Encode(rowsToMaps(result))
}
