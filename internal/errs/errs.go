package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds that cross component boundaries.
// These can be checked with errors.Is().
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrStorage       = errors.New("storage failure")
	ErrProbeFailed   = errors.New("probe failed")
	ErrNoVideoStream = errors.New("no video stream")
	ErrEncodeFailed  = errors.New("encode failed")
	ErrIO            = errors.New("io failure")
	ErrCancelled     = errors.New("cancelled")
)

// Validationf returns a Validation error with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns a NotFound error with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf returns a Conflict error with a formatted detail message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Storagef wraps a database error, keeping the underlying error in the chain.
func Storagef(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// ProbeFailedf returns a ProbeFailed error carrying the tool's diagnostics.
func ProbeFailedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProbeFailed, fmt.Sprintf(format, args...))
}

// EncodeFailedf returns an EncodeFailed error with a formatted detail message.
func EncodeFailedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEncodeFailed, fmt.Sprintf(format, args...))
}

// IOf wraps a filesystem error from scratch handling or safe replace.
func IOf(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
