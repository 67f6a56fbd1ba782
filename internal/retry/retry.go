// Package retry implements capped exponential backoff shared by the keyed
// store writer, the bulk indexer and the export job poller.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidAttempts is returned when a policy allows no attempts.
var ErrInvalidAttempts = errors.New("retry: max attempts must be positive")

// Policy describes a capped exponential backoff.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	Initial     time.Duration // delay after the first failure
	Max         time.Duration // upper bound for a single delay, 0 = uncapped
	Factor      float64       // growth per attempt, values < 1 are treated as 2
}

// Default is used by writers when nothing is configured.
var Default = Policy{MaxAttempts: 5, Initial: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2}

// Delay returns the wait after the given 1-based failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 2
	}
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= factor
		if p.Max > 0 && d >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(d) > p.Max {
		return p.Max
	}
	return time.Duration(d)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a permanent error, the policy is
// exhausted or ctx is done. On exhaustion the last error is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == p.MaxAttempts {
			break
		}

		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
