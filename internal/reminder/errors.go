package reminder

import "errors"

var (
	// ErrMalformedInput: the line does not have the expected shape.
	ErrMalformedInput = errors.New("malformed input")
	// ErrInvalidCalendarDate: well-formed but not a real date (31:04, 29:02:2023).
	ErrInvalidCalendarDate = errors.New("invalid calendar date")
	// ErrInPast: a one-off date or instant that has already passed.
	ErrInPast = errors.New("already in the past")
)
