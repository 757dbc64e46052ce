package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Error taxonomy shared by every layer. Callers test with errors.Is; the
// sentinels survive eris wrapping.
var (
	ErrNotFound            = eris.New("not found")
	ErrInvalidInput        = eris.New("invalid input")
	ErrUpstreamTimeout     = eris.New("upstream timeout")
	ErrPersistenceConflict = eris.New("persistence conflict")
)

// NotFoundf wraps ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return eris.Wrapf(ErrNotFound, format, args...)
}

// InvalidInputf wraps ErrInvalidInput with a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return eris.Wrapf(ErrInvalidInput, format, args...)
}

// Conflictf wraps ErrPersistenceConflict with a formatted detail.
func Conflictf(format string, args ...any) error {
	return eris.Wrapf(ErrPersistenceConflict, format, args...)
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err is an InvalidInput error.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUpstreamTimeout reports whether err is an UpstreamTimeout error.
func IsUpstreamTimeout(err error) bool { return errors.Is(err, ErrUpstreamTimeout) }

// IsPersistenceConflict reports whether err is a PersistenceConflict error.
func IsPersistenceConflict(err error) bool { return errors.Is(err, ErrPersistenceConflict) }
