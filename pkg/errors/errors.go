// Package errors provides coded domain errors shared across the registry core.
//
// Services return these instead of raw errors so transports and the flow
// executor can translate failures into result codes without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeSyntax marks a structurally invalid command (e.g. missing inner command).
	CodeSyntax Code = "syntax"
	// CodeUnimplemented marks a recognized but unsupported command shape.
	CodeUnimplemented Code = "unimplemented"
	// CodeAuthentication marks a missing or failed login.
	CodeAuthentication Code = "authentication"
	// CodeAuthorization marks a sponsorship, TLD access, or phase violation.
	CodeAuthorization Code = "authorization"
	// CodeNotFound marks a resource missing or soft-deleted at the flow time.
	CodeNotFound Code = "not_found"
	// CodeAlreadyExists marks a create colliding with a live resource.
	CodeAlreadyExists Code = "already_exists"
	// CodePrecondition marks a handler-specific precondition failure, such as
	// requesting a transfer while one is already pending.
	CodePrecondition Code = "precondition"
	// CodeConflict marks a transactional collision. Retryable: the flow
	// executor re-runs the whole handler from a fresh read.
	CodeConflict Code = "conflict"
	// CodeFatalStorage marks a non-retryable persistence failure.
	CodeFatalStorage Code = "fatal_storage"
	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "internal"
)

// Error is a domain error carrying a classification code.
type Error struct {
	code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Code returns the error's classification.
func (e *Error) Code() Code { return e.code }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{code: code, msg: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the chain for
// errors.Is/As. Wrapping nil returns nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, msg: msg, err: err}
}

// CodeOf extracts the code from err, or CodeInternal if err carries none.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.code
	}
	return CodeInternal
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.code == code
	}
	return false
}

// Retryable reports whether the flow executor should re-run the handler.
// Only transactional conflicts are retryable; everything else either mutated
// nothing (validation failures) or must surface immediately (fatal storage).
func Retryable(err error) bool {
	return HasCode(err, CodeConflict)
}
