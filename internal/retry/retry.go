// Package retry decorates fallible operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classification decides whether an error is worth another attempt.
type Classification int

const (
	// Fatal errors are surfaced immediately; retrying cannot help
	// (decode failures, validation errors, exhausted global budgets).
	Fatal Classification = iota
	// Retryable errors (rate limits, transient network failures) are
	// absorbed until the attempt budget runs out.
	Retryable
)

// Classifier maps an operation error to a Classification.
type Classifier func(error) Classification

// ErrAttemptsExhausted wraps the last error once the attempt budget is spent.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy shapes the backoff schedule between attempts.
type Policy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	RandomizationFactor float64
	Multiplier          float64
}

// SearchPolicy doubles from a ~2s seed. Search APIs throttle aggressively;
// short first waits with growth recover fastest.
func SearchPolicy() Policy {
	return Policy{
		InitialInterval:     2 * time.Second,
		MaxInterval:         30 * time.Second,
		RandomizationFactor: 0.25,
		Multiplier:          2,
	}
}

// FetchPolicy waits a randomized 3-8s window per attempt, matching the
// content-extraction service's anti-automation thresholds.
func FetchPolicy() Policy {
	return Policy{
		InitialInterval:     5500 * time.Millisecond,
		MaxInterval:         16 * time.Second,
		RandomizationFactor: 0.45,
		Multiplier:          1.5,
	}
}

func (p Policy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.RandomizationFactor
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0 // attempts are bounded by count, not wall clock
	b.Reset()
	return b
}

// Do runs op up to maxAttempts times, sleeping per policy between attempts.
// Errors classified Fatal are returned immediately; once the budget is
// exhausted the last error is returned wrapped in ErrAttemptsExhausted.
func Do[T any](ctx context.Context, maxAttempts int, policy Policy, classify Classifier, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	sched := policy.backoff()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if classify != nil && classify(err) == Fatal {
			return zero, err
		}
		lastErr = err

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(sched.NextBackOff()):
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, maxAttempts, lastErr)
}

// Pace sleeps a random duration in [min, max] before the first attempt of a
// paced operation. This is a designed throughput throttle to stay under
// third-party anti-automation thresholds, not an error-recovery mechanism:
// it runs once and is never retried.
func Pace(ctx context.Context, min, max time.Duration) error {
	if max <= 0 {
		return nil
	}
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
