// SPDX-License-Identifier: MPL-2.0

// Package retry wraps an execution with exponential backoff, mirroring the
// attempt-loop shape of a wrapper decorator: run, check the outcome, wait,
// retry, until attempts are exhausted or the outcome is acceptable.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xec-sh/xec/pkg/command"
)

// Clock abstracts time so tests can drive retries without real sleeps.
// *testutil.FakeClock satisfies this interface.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Policy configures a retry loop per spec.md §4.11.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first;
	// zero or negative means 1 (no retries).
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay. Zero means unbounded.
	MaxDelay time.Duration
	// BackoffMultiplier scales the delay each attempt; zero defaults to 2.
	BackoffMultiplier float64
	// JitterFraction, when > 0, randomizes each delay by a uniform
	// fraction within [-JitterFraction, +JitterFraction] of its value.
	JitterFraction float64
	// IsRetryable decides whether an attempt's outcome should be
	// retried. The default retries on a non-nil error or a Result with
	// OK()==false.
	IsRetryable func(result command.Result, err error) bool
	// OnRetry is invoked after an attempt fails and before the wait,
	// once per retry (not on the final, non-retried attempt).
	OnRetry func(attempt int, lastResult command.Result, lastErr error, delay time.Duration)
	// Clock is used to compute waits; nil uses wall-clock time.
	Clock Clock
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) multiplier() float64 {
	if p.BackoffMultiplier <= 0 {
		return 2
	}
	return p.BackoffMultiplier
}

func (p Policy) clock() Clock {
	if p.Clock == nil {
		return systemClock{}
	}
	return p.Clock
}

func (p Policy) isRetryable(result command.Result, err error) bool {
	if p.IsRetryable != nil {
		return p.IsRetryable(result, err)
	}
	return err != nil || !result.OK()
}

// backoffFor builds a cenkalti/backoff ExponentialBackOff configured from
// p, reused so delay computation — including jitter — matches the
// ecosystem's own randomized-exponential-backoff semantics rather than a
// hand-rolled formula.
func (p Policy) backoffFor() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	b.Multiplier = p.multiplier()
	b.RandomizationFactor = p.JitterFraction
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	} else {
		b.MaxInterval = 365 * 24 * time.Hour
	}
	// MaxAttempts, not elapsed wall-clock time, governs when Do stops
	// retrying; disable backoff's own elapsed-time cutoff.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn up to policy's MaxAttempts, waiting between attempts per its
// backoff configuration, until fn's outcome is not retryable or attempts
// are exhausted. On exhaustion, the last outcome (Result and/or error) is
// returned, letting the caller decide — per spec.md §4.11 — whether to
// surface the error or a non-ok Result.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) (command.Result, error)) (command.Result, error) {
	b := policy.backoffFor()
	attempts := policy.attempts()
	clock := policy.clock()

	var lastResult command.Result
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastResult, err
		}

		lastResult, lastErr = fn(ctx)
		if !policy.isRetryable(lastResult, lastErr) {
			return lastResult, lastErr
		}
		if attempt == attempts {
			break
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, lastResult, lastErr, delay)
		}
		if err := wait(ctx, clock, delay); err != nil {
			return lastResult, err
		}
	}

	return lastResult, lastErr
}

func wait(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

