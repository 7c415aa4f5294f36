package kafka

import (
	"context"
	"errors"
)

// ConsumerHook runs around every handler attempt. A BeforeHandle error skips
// the handler and counts as a failed attempt.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, data []byte) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, topic string, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, data []byte) (context.Context, []byte, error) {
	return ctx, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, []byte, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil fields are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, []byte) (context.Context, []byte, error)
	After  func(context.Context, string, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, data []byte) (context.Context, []byte, error) {
	if h.Before == nil {
		return ctx, data, nil
	}
	return h.Before(ctx, topic, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, data, err)
	}
}

var errPermanent = errors.New("permanent")

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() []error { return []error{e.err, errPermanent} }

// Permanent marks a handler error that must not be retried, such as a
// malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool { return errors.Is(err, errPermanent) }
