// Package apperr defines the error taxonomy shared by services and handlers.
// Every error leaving a service is either an *Error with an HTTP status, or an
// internal error that the response layer maps to a generic 500.
package apperr

import (
	"errors"
	"net/http"
)

// Error is a user-facing error with an HTTP status code.
type Error struct {
	StatusCode int               `json:"statusCode"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Validation returns a 400 with optional field-level detail.
func Validation(msg string, fields map[string]string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "validation_error", Message: msg, Fields: fields}
}

// Unauthorized returns a 401.
func Unauthorized(msg string) *Error {
	return &Error{StatusCode: http.StatusUnauthorized, Code: "unauthorized", Message: msg}
}

// Forbidden returns a 403.
func Forbidden(msg string) *Error {
	return &Error{StatusCode: http.StatusForbidden, Code: "forbidden", Message: msg}
}

// NotFound returns a 404.
func NotFound(msg string) *Error {
	return &Error{StatusCode: http.StatusNotFound, Code: "not_found", Message: msg}
}

// Conflict returns a 409.
func Conflict(msg string) *Error {
	return &Error{StatusCode: http.StatusConflict, Code: "conflict", Message: msg}
}

// Upstream returns a 502 for an essential collaborator failure.
func Upstream(msg string) *Error {
	return &Error{StatusCode: http.StatusBadGateway, Code: "upstream_error", Message: msg}
}

// Internal returns a 500.
func Internal(msg string) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "internal_error", Message: msg}
}

// From extracts an *Error from err, or wraps err as a 500.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err.Error())
}
