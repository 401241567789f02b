package export

import "errors"

// ErrUnknownFormat is returned when an EXPORT directive names a FORMAT
// value no Writer handles.
var ErrUnknownFormat = errors.New("unknown export format")
