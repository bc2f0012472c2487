// Package abort carries expected, caller-recoverable rejections across the
// transaction boundary. An *Error rolls back the surrounding transaction but
// is reported to the caller as a structured status + payload rather than
// being logged as a system failure.
package abort

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a rejection with an HTTP-equivalent status and optional payload
// fields for the caller.
type Error struct {
	Status  int
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	return e.Message
}

// WithField attaches a payload field and returns the error for chaining.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Invalid reports malformed input. No write is attempted.
func Invalid(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a uniqueness violation, such as a duplicate list name
// within a group.
func Conflict(format string, args ...any) *Error {
	return &Error{Status: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or not-owned entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Locked reports a year-lock rejection, naming the year and the denied
// action.
func Locked(year int, action string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Message: fmt.Sprintf("year %d is locked: cannot %s", year, action),
		Fields:  map[string]any{"year": year, "action": action},
	}
}

// From unwraps err into an *Error, reporting whether it is one.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
