package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks network or 5xx-class failures that may be retried.
	ErrTransient = errors.New("transient connector error")
	// ErrPermanent marks business rejections that must not be retried.
	ErrPermanent = errors.New("permanent connector error")
	ErrNotFound  = errors.New("not found")

	ErrInvalidTimeframe = errors.New("unsupported timeframe")
)

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient reports whether err may be retried. Unclassified errors are treated
// as transient; only ErrPermanent stops a retry loop early.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPermanent)
}
