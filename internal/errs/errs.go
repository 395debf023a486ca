// Package errs defines the error kinds shared across the metering core.
// Callers classify failures with errors.Is against the sentinels here.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input, rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a reference to a row that must exist but does not.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks optimistic-retry exhaustion under contention.
	ErrConflict = errors.New("concurrency conflict")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}
