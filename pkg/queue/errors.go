package queue

import "fmt"

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Error is a taxonomy error with a stable code and an optional cause chain.
// It mirrors the shape of the root package's pg.Error so errors.Is composes
// across both halves of the closed set (spec §4.7).
type Error struct {
	Code  string
	text  string
	cause error
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// The queue-semantic half of the closed error taxonomy (spec §4.7); the
// database-shaped half lives in pg.Error.
var (
	ErrValidation       = &Error{Code: "validation"}
	ErrRaceLost         = &Error{Code: "race_lost"}
	ErrInProcess        = &Error{Code: "in_process"}
	ErrClaimFailure     = &Error{Code: "claim_failure"}
	ErrUniqueConstraint = &Error{Code: "unique_constraint"}
	ErrHandlerMissing   = &Error{Code: "handler_missing"}
	ErrHandlerFailure   = &Error{Code: "handler_failure"}
	ErrSweepFailure     = &Error{Code: "sweep_failure"}
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (e *Error) Error() string {
	if e.text != "" {
		return e.text
	}
	return e.Code
}

// Is reports whether target shares this error's code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error {
	return e.cause
}

// With returns a copy of the error with a message appended.
func (e *Error) With(v any) *Error {
	return &Error{Code: e.Code, text: e.Code + ": " + fmt.Sprint(v)}
}

// Withf returns a copy of the error with a formatted message appended.
func (e *Error) Withf(format string, args ...any) *Error {
	return e.With(fmt.Sprintf(format, args...))
}

// WithErr returns a copy of the error wrapping a cause.
func (e *Error) WithErr(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{Code: e.Code, text: e.Code + ": " + err.Error(), cause: err}
}
