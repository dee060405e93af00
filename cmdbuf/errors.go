// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package cmdbuf

import "fmt"

// Code identifies the class of a failure raised by the subsystem.
type Code int

// Error codes.
const (
	// Out-of-range index, wrong kind for a command, bad stride,
	// non-positive dispatch size, viewport out of bounds, pass
	// mismatch.
	INVARG Code = iota
	// Draw or dispatch issued without the required preceding
	// state, or a pending clear with no bound target at end
	// of stream.
	INVCMD
	// Command list growth beyond the maximum capacity, dispatch
	// size beyond the device maximum, too many vertex inputs.
	LIMIT
	// Allocation failure during encode or decode.
	NOMEM
	// An underlying GPU call returned a non-success status.
	DEVGEN
	// Pool exhausted, or a decoder slot already occupied.
	INUSE
	// Execution queue (sub-queue) at capacity.
	QFULL
	// Referenced object could not be found.
	NOTFND
	// Operation or combination of parameters not supported.
	UNSUP
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case INVARG:
		return "invalid argument"
	case INVCMD:
		return "invalid command"
	case LIMIT:
		return "limit exceeded"
	case NOMEM:
		return "no memory"
	case DEVGEN:
		return "device error"
	case INUSE:
		return "in use"
	case QFULL:
		return "queue full"
	case NOTFND:
		return "not found"
	case UNSUP:
		return "unsupported"
	}
	return "unknown error"
}

// Error is the error type produced by this package.
// Every failure reported by the subsystem can be inspected through
// errors.As to recover its Code.
type Error struct {
	Code Code
	Msg  string
	Err  error // Wrapped cause, if any.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cmdbuf: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("cmdbuf: %s: %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// newError creates a new *Error.
func newError(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// wrapError creates a new *Error wrapping a cause.
func wrapError(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}
