package errors

import (
	"errors"
	"fmt"
)

// Categories. Every concrete error below wraps exactly one of them, so callers
// can branch on the category with errors.Is.
var (
	ErrTransient           = errors.New("transient collaborator error")
	ErrPersistence         = errors.New("persistence error")
	ErrValidation          = errors.New("validation error")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

var (
	ErrNotBanned      = fmt.Errorf("%w: user is not banned", ErrValidation)
	ErrAlreadyPending = fmt.Errorf("%w: appeal already pending", ErrValidation)
	ErrInvalidLength  = fmt.Errorf("%w: appeal text length out of bounds", ErrValidation)
	ErrNotFound       = fmt.Errorf("%w: not found", ErrValidation)
	ErrUnknownUser    = fmt.Errorf("%w: unknown user", ErrValidation)
	ErrInvalidCommand = fmt.Errorf("%w: invalid command", ErrValidation)

	ErrAlreadyResolved = fmt.Errorf("%w: already resolved", ErrConcurrencyConflict)
)

// Persistence marks err as a retryable storage failure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Transient marks err as a failure of an external collaborator that only
// skips the check it belongs to.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransient, op, err)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrTransient)
}
