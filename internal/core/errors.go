package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, checked with errors.Is. Adapters map them to status codes.
var (
	ErrCompanyNotFound = errors.New("company not found")
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrUnauthenticated = errors.New("invalid credentials")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("feature unavailable")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidationErrors collects several field problems into one error.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() error {
	return ErrValidation
}

// OrNil returns nil when no problems were collected.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// IsClientError reports whether err stems from caller input rather than a
// server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCompanyNotFound) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState)
}
