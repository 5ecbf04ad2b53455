// Package retry classifies collaborator failures and retries the transient ones
// with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Transient marks err as worth retrying (rate limit, timeout, 5xx).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent marks err as not worth retrying (bad input, auth, policy rejection).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether err should be retried. An explicit Permanent
// mark wins over anything it wraps. Timeouts and network errors are
// transient; everything else unclassified is treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Timeout bounds a single attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// Backoff returns the wait before retry number n (1-based): BaseDelay * 2^(n-1),
// capped at MaxDelay when set.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails permanently, or MaxRetries retries have
// been spent. It returns the number of calls made alongside the result.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := call(ctx, p.Timeout, fn)
		if err == nil {
			return v, attempt, nil
		}
		if !IsTransient(err) || attempt > p.MaxRetries {
			return zero, attempt, err
		}
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return zero, attempt, err
		}
	}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return v, Transient(fmt.Errorf("call timed out after %s: %w", timeout, err))
	}
	return v, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
