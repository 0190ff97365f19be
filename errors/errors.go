package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code classifies an error. Codes follow http status codes.
type Code int

const (
	Validation         Code = http.StatusBadRequest
	NotFound           Code = http.StatusNotFound
	Timeout            Code = http.StatusRequestTimeout
	Conflict           Code = http.StatusConflict
	PreconditionFailed Code = http.StatusPreconditionFailed
	Throttled          Code = http.StatusTooManyRequests
	Internal           Code = http.StatusInternalServerError
	Unavailable        Code = http.StatusServiceUnavailable
)

// Error is a custom error
type Error struct {
	Code     Code     `json:"code"`
	Messages []string `json:"messages"`
	Err      error    `json:"err,omitempty"`
}

// Error returns the Error as a json string
func (e *Error) Error() string {
	code := e.Code
	if code == 0 {
		code = http.StatusOK
	}
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	bits, _ := json.Marshal(struct {
		Code     Code     `json:"code"`
		Messages []string `json:"messages"`
		Err      string   `json:"err,omitempty"`
	}{code, e.Messages, cause})
	return string(bits)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// RemoveError removes the error from the Error and leaves it's messages and code
func (e *Error) RemoveError() *Error {
	return &Error{
		Code:     e.Code,
		Messages: e.Messages,
		Err:      nil,
	}
}

// New creates a new error with the given code and message
func New(code Code, msg string, args ...any) error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{
		Code:     code,
		Messages: []string{msg},
	}
}

// Extract extracts the custom Error from the given error
func Extract(err error) *Error {
	var e *Error
	if !stderrors.As(err, &e) {
		return &Error{
			Code:     0,
			Messages: nil,
			Err:      err,
		}
	}
	return e
}

// Wrap wraps the given error and returns a new one. A nil error stays nil.
func Wrap(err error, code Code, msg string, args ...any) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if ok {
		if msg != "" {
			e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
		}
		if code > 0 {
			e.Code = code
		}
		return e
	}
	e = &Error{
		Code: code,
		Err:  err,
	}
	if msg != "" {
		e.Messages = append(e.Messages, fmt.Sprintf(msg, args...))
	}
	return e
}

// CodeOf returns the code of the first coded error in err's chain. Context deadlines map to Timeout.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return 0
}

// IsTransient reports whether the error is worth retrying (throttling, timeouts, unavailability)
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case Throttled, Timeout, Unavailable:
		return true
	default:
		return false
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
