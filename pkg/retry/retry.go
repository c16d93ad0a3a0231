package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
)

const (
	DefaultMaxAttempts = 3
	DefaultInitial     = 2 * time.Second
	DefaultMax         = 10 * time.Second
	DefaultMultiplier  = 2.0
)

// Policy bounds how an operation is retried. A zero Policy means
// DefaultPolicy(); set Initial to a negative value to retry without waiting.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Initial:     DefaultInitial,
		Max:         DefaultMax,
		Multiplier:  DefaultMultiplier,
	}
}

// NoWait returns a policy that retries immediately, for tests and batch tools.
func NoWait(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Initial: -1}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Initial == 0 {
		p.Initial = DefaultInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Backoff is the wait before attempt n+1, n starting at 1.
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	if p.Initial < 0 || n < 1 {
		return 0
	}
	wait := float64(p.Initial)
	for i := 1; i < n; i++ {
		wait *= p.Multiplier
		if wait >= float64(p.Max) {
			return p.Max
		}
	}
	if time.Duration(wait) > p.Max {
		return p.Max
	}
	return time.Duration(wait)
}

// Error is returned once every attempt has failed.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do unwraps it before returning.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p) || errors.Is(err, types.ErrConfiguration)
}

// Do calls op until it succeeds, returns a permanent error, the context is
// done or the policy's attempts are used up.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if wait := policy.Backoff(attempt - 1); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			if p, ok := err.(permanentError); ok {
				return p.err
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		lastErr = err
	}

	return &Error{Attempts: policy.MaxAttempts, Err: lastErr}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, policy, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
