// Package apierror defines the error taxonomy shared by the document core.
// Callers branch on these with errors.Is / errors.As; the HTTP layer maps
// them to status codes.
package apierror

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no document, lock or user matches.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the requester lacks access.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest is returned for malformed identifiers or parameters.
	ErrBadRequest = errors.New("bad request")
)

// FieldError is a single schema violation reported by a validator.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError carries the full list of field-level violations for a
// rejected payload.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d error(s)", len(e.Errors))
}

// UndefinedStateError is returned when a referenced state name is not
// declared on the resource.
type UndefinedStateError struct {
	State string
}

func (e *UndefinedStateError) Error() string {
	return fmt.Sprintf("undefined state: %s", e.State)
}

// NotFound wraps ErrNotFound with a contextual message.
func NotFound(msg string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, msg)
}

// Unauthorized wraps ErrUnauthorized with a contextual message.
func Unauthorized(msg string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
}

// BadRequest wraps ErrBadRequest with a contextual message.
func BadRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, msg)
}
