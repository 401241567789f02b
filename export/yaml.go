package export

import (
	"fmt"
	"io"

	"github.com/goccy/go-yaml"

	"sqlflow/engine"
)

// YAMLWriter writes a result as a YAML sequence of mappings.
type YAMLWriter struct{}

func (w *YAMLWriter) Write(result engine.Result, output io.Writer) error {
	data, err := yaml.Marshal(rowsToMaps(result))
	if err != nil {
		return fmt.Errorf("export: marshal yaml: %w", err)
	}

	_, err = output.Write(data)

	return err
}
