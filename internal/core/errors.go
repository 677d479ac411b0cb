package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("job not found")
	ErrExpired       = errors.New("release link expired")
	ErrInvalidToken  = errors.New("invalid release token")
	ErrAlreadyViewed = errors.New("document already viewed")
	ErrConflict      = errors.New("job status does not permit this transition")
	ErrForbidden     = errors.New("actor does not own this job")
)

// ValidationError reports malformed submission input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

const (
	KindNotFound      = "not_found"
	KindExpired       = "expired"
	KindInvalidToken  = "invalid_token"
	KindAlreadyViewed = "already_viewed"
	KindConflict      = "conflict"
	KindForbidden     = "forbidden"
	KindValidation    = "validation_error"
	KindInternal      = "internal"
)

// Kind maps an error returned by this package to its machine-readable kind.
// Anything unrecognised is a storage failure and reports KindInternal.
func Kind(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrInvalidToken):
		return KindInvalidToken
	case errors.Is(err, ErrAlreadyViewed):
		return KindAlreadyViewed
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.As(err, &verr):
		return KindValidation
	default:
		return KindInternal
	}
}
