package export

import (
	"io"

	"github.com/beevik/etree"

	"sqlflow/engine"
)

// XMLWriter writes a result as an XML document, one RowName element per
// row with one child element per column. Go's encoding/xml needs a
// matching struct per result shape; etree builds the tree directly from
// the dynamic column list instead.
type XMLWriter struct {
	RootName string
	RowName  string
}

func (w *XMLWriter) Write(result engine.Result, output io.Writer) error {
	root := w.RootName
	if root == "" {
		root = "rows"
	}

	row := w.RowName
	if row == "" {
		row = "row"
	}

	doc := etree.NewDocument()
	doc.Indent(2)

	rootElem := doc.CreateElement(root)

	for _, record := range result.Rows {
		rowElem := rootElem.CreateElement(row)

		for i, col := range result.Columns {
			if i >= len(record) {
				continue
			}

			rowElem.CreateElement(col).SetText(formatValue(record[i]))
		}
	}

	_, err := doc.WriteTo(output)

	return err
}
