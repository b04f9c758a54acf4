// Package apperr defines the error taxonomy shared by the stores, the core
// services and the transports.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound also covers "not allowed": callers must not learn whether
	// a resource they cannot see exists.
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUpstream       = errors.New("upstream failure")
	ErrPartialFailure = errors.New("partial failure")
)

// FieldError is a single validation failure.
type FieldError struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

// FieldErrors collects validation failures for one request.
type FieldErrors []FieldError

// Add records a failure for field.
func (fe *FieldErrors) Add(field, msg string) {
	*fe = append(*fe, FieldError{Field: field, Msg: msg})
}

// Require records "is required" for every empty value.
func (fe *FieldErrors) Require(field, value string) {
	if strings.TrimSpace(value) == "" {
		fe.Add(field, "is required")
	}
}

// Err returns nil when nothing was recorded.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}

func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, e.Field+" "+e.Msg)
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (fe FieldErrors) Unwrap() error { return ErrInvalidInput }

// Status maps an error to the HTTP status class reported to clients.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrPartialFailure):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-facing text for err. Internal errors are not echoed.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
