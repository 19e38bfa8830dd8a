package pg

import (
	"errors"
	"fmt"

	// Packages
	pgx "github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Error is a taxonomy error with a stable code and an optional cause chain.
// Two errors compare equal with errors.Is when their codes match, regardless
// of the message or cause attached by With/Withf/WithErr.
type Error struct {
	Code  string
	text  string
	cause error
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Closed error taxonomy for the database access layer (spec §4.7, database half)
var (
	ErrBadParameter   = &Error{Code: "bad_parameter"}
	ErrNotFound       = &Error{Code: "not_found"}
	ErrNotImplemented = &Error{Code: "not_implemented"}
	ErrStorageFault   = &Error{Code: "storage_fault"}
	ErrTransaction    = &Error{Code: "transaction"}
	ErrDuplicateId    = &Error{Code: "duplicate_id"}
)

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (e *Error) Error() string {
	if e.text != "" {
		return e.text
	}
	return e.Code
}

// Is reports whether target shares this error's code, so errors.Is matches
// regardless of which With/Withf call produced the concrete instance.
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

// WithErr returns a copy of the error wrapping a cause, preserving the
// cause chain so errors.Is/As can still reach the original error.
func (e *Error) WithErr(err error) *Error {
	if err == nil {
		return e
	}
	return &Error{Code: e.Code, text: e.Code + ": " + err.Error(), cause: err}
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// pgerror maps a pgx/pgconn error onto the closed taxonomy above. Errors
// that are already part of the taxonomy pass through unchanged. Nil passes
// through as nil so callers can write "return pgerror(err)" unconditionally.
func pgerror(err error) error {
	if err == nil {
		return nil
	}

	var taxonomy *Error
	if errors.As(err, &taxonomy) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound.WithErr(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrDuplicateId.WithErr(err)
		case "25P02", "40001", "40P01": // failed txn, serialization failure, deadlock
			return ErrTransaction.WithErr(err)
		default:
			return ErrStorageFault.WithErr(err)
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ErrStorageFault.WithErr(err)
	}

	return ErrStorageFault.WithErr(err)
}
