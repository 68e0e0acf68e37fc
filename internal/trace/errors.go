package trace

import "fmt"

// ErrorType categorizes per-record failures. The taxonomy is part of the
// durable error log: operators filter on it to distinguish structurally
// broken input (FORMAT_ERROR) from bad data (COORDINATE_ERROR) from data that
// is merely outside the area of interest (BOUNDS_ERROR).
type ErrorType string

const (
	// FormatError marks a structurally malformed record: wrong field count
	// or an unparseable container row.
	FormatError ErrorType = "FORMAT_ERROR"

	// CoordinateError marks a longitude/latitude that is missing,
	// non-numeric, or outside the hard WGS84 range.
	CoordinateError ErrorType = "COORDINATE_ERROR"

	// BoundsError marks a valid WGS84 coordinate outside a configured
	// domain bounding box.
	BoundsError ErrorType = "BOUNDS_ERROR"

	// TimestampError marks a timestamp no configured format could parse.
	TimestampError ErrorType = "TIMESTAMP_ERROR"

	// ValidationErr marks a composite rejection: a hard rule such as
	// negative speed, or warnings promoted to errors in strict mode.
	ValidationErr ErrorType = "VALIDATION_ERROR"

	// UnknownError marks an unexpected failure while processing a single
	// record. It never aborts the file.
	UnknownError ErrorType = "UNKNOWN_ERROR"
)

// RecordError is a structured, non-fatal per-record failure. Field is set
// when the error concerns a single named field.
type RecordError struct {
	Type    ErrorType
	Field   string
	Message string
}

// Error implements the error interface.
func (e RecordError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Errf builds a RecordError with a formatted message.
func Errf(t ErrorType, field, format string, a ...any) RecordError {
	return RecordError{Type: t, Field: field, Message: fmt.Sprintf(format, a...)}
}
