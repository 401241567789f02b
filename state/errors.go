package state

import "fmt"

// StateError wraps a failure in the durable store itself (as opposed to a
// failure in the SQL the store is recording the outcome of).
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state backend: %s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
