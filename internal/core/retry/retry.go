// Package retry provides the retry policy shared by service probes and
// post-deployment health checks.
package retry

import (
	"context"
	"errors"
	"time"
)

// Defaults applied by Normalize.
const (
	DefaultMaxAttempts = 3
	DefaultInterval    = 2 * time.Second
	DefaultTimeout     = 10 * time.Second
)

// Policy describes how an operation is retried.
type Policy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	Interval    time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // Per attempt; zero disables
	Multiplier  float64       `json:"multiplier,omitempty" yaml:"multiplier" mapstructure:"multiplier"`
	MaxInterval time.Duration `json:"max_interval,omitempty" yaml:"max_interval" mapstructure:"max_interval"`
}

// Normalize fills unset fields with defaults. Multiplier below 1 means a
// fixed interval.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	if p.Timeout < 0 {
		p.Timeout = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Delay returns the wait before attempt n+1, for n >= 1.
func (p Policy) Delay(n int) time.Duration {
	d := p.Interval
	for i := 1; i < n && p.Multiplier > 1; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	return d
}

// MaxElapsed is the upper bound Do can take when every attempt uses its
// full timeout.
func (p Policy) MaxElapsed() time.Duration {
	p = p.Normalize()
	var total time.Duration
	for n := 1; n <= p.MaxAttempts; n++ {
		total += p.Timeout
		if n < p.MaxAttempts {
			total += p.Delay(n)
		}
	}
	return total
}

// =============================================================================
// Do
// =============================================================================

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns a Permanent error, the attempts run
// out, or ctx ends. Each attempt gets its own context bounded by
// p.Timeout. It returns the number of attempts made and the last error.
func Do(ctx context.Context, p Policy, fn Func) (int, error) {
	p = p.Normalize()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		lastErr = runAttempt(ctx, p.Timeout, attempt, fn)
		if lastErr == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempt, perm.err
		}

		if attempt < p.MaxAttempts {
			if err := sleep(ctx, p.Delay(attempt)); err != nil {
				return attempt, lastErr
			}
		}
	}
	return p.MaxAttempts, lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, fn Func) error {
	if timeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx, attempt)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
