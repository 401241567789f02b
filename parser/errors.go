package parser

import "fmt"

// SyntaxError is a lexer/parser failure. The parser fails at the first
// unrecoverable token but accumulates further SyntaxErrors when it can
// resynchronize at the next ';'.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// ValidationError covers invalid identifiers, malformed JSON params, and
// invalid upsert key lists. Always fatal.
type ValidationError struct {
	Line    int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error at line %d: %s", e.Line, e.Message)
}

// IncludeCycleError is returned when INCLUDE directives form a cycle.
type IncludeCycleError struct {
	Path  string
	Chain []string
}

func (e *IncludeCycleError) Error() string {
	return fmt.Sprintf("include cycle detected at %q: %v", e.Path, e.Chain)
}
