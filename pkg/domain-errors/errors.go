// Package domainerrors defines the coded error type shared by services and
// the HTTP layer. Services return coded errors; transports map codes to
// status codes without inspecting messages.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeRateLimited        Code = "rate_limit_exceeded"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
)

// Error is a domain error carrying a stable code and a human readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code and message, so tests can
// compare against a freshly built value.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New creates a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As extracts the outermost domain error from the chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// Is is a convenience alias for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// HTTPStatus maps a code to the status code the transport should use.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
