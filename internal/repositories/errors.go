package repositories

import (
	"context"
	"errors"
	"fmt"
)

// TransientStoreError wraps a failure that may succeed on retry: timeouts,
// lost connections, lock contention. Statements are idempotent, so
// retrying is always safe.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// StoreError wraps a failure that retrying cannot fix: authentication,
// syntax, constraint violations.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a *TransientStoreError.
func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// Classify wraps err as transient or fatal. isTransient is the store's own
// classifier; context deadline and cancellation are always transient.
func Classify(op string, err error, isTransient func(error) bool) error {
	if err == nil {
		return nil
	}
	var te *TransientStoreError
	var se *StoreError
	if errors.As(err, &te) || errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientStoreError{Op: op, Err: err}
	}
	if isTransient != nil && isTransient(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return &StoreError{Op: op, Err: err}
}
