// Package apperr defines the business-rule failure kinds shared by every
// domain package and their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds. Domain sentinels wrap exactly one of these.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidState  = errors.New("invalid state")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("configuration error")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrForbidden,
	ErrInvalidState,
	ErrConflict,
	ErrConfiguration,
}

// Error is a message attached to a failure kind. errors.Is matches both the
// Error value itself and its Kind.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an *Error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with fmt formatting.
func Newf(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the failure kind carried by err, or nil for errors that are
// not business-rule rejections.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// HTTPStatus maps err to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrValidation, ErrInvalidState:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
