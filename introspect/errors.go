package introspect

import "errors"

var (
	// ErrNoTables indicates the target database exposed no tables to introspect.
	ErrNoTables = errors.New("introspect: no tables found")
	// ErrUnsupportedDialect indicates a dialect with no table-listing query wired up.
	ErrUnsupportedDialect = errors.New("introspect: unsupported dialect")
)
