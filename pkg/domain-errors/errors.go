// Package domainerrors defines coded errors returned by the mutation engine.
//
// Stores speak in sentinel errors (pkg/platform/sentinel); services translate those
// facts into coded errors that callers can branch on and that the HTTP layer renders
// without leaking internals.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure callers are expected to handle.
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodeDuplicateID       Code = "duplicate_id"
	CodeVersionConflict   Code = "version_conflict"
	CodeIllegalTransition Code = "illegal_transition"
	CodeForbidden         Code = "forbidden"
	CodeGuardFailed       Code = "guard_failed"
	CodeValidation        Code = "validation_error"
	CodeStoreUnavailable  Code = "store_unavailable"

	CodeInvariantViolation Code = "invariant_violation"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"
)

// Error is a coded error. Field names the offending input field for validation
// errors; Meta carries structured detail (transition endpoints, role, operation).
type Error struct {
	Code    Code
	Message string
	Field   string
	Meta    map[string]string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, New(CodeNotFound, "")) works
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Validation reports a malformed or out-of-range field value.
func Validation(field, reason string) *Error {
	return &Error{Code: CodeValidation, Message: reason, Field: field}
}

// WithField returns a copy of e naming the offending field.
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// WithMeta returns a copy of e with key set in Meta.
func (e *Error) WithMeta(key, value string) *Error {
	cp := *e
	cp.Meta = make(map[string]string, len(e.Meta)+1)
	for k, v := range e.Meta {
		cp.Meta[k] = v
	}
	cp.Meta[key] = value
	return &cp
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is shorthand for HasCode.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// As extracts the first *Error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}
