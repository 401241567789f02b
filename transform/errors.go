package transform

import "fmt"

// SchemaError is reported when a mode's structural precondition cannot be
// satisfied without risking data loss or ambiguous results — most notably
// an UPSERT whose KEY columns are not actually unique in the source.
type SchemaError struct {
	Table   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on %q: %s", e.Table, e.Message)
}
