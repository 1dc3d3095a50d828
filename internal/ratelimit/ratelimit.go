// Package ratelimit enforces per-bucket request budgets for outbound calls.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"deepresearch/config"
)

// Bucket identifies an operation class with an independent budget.
type Bucket string

const (
	BucketSearch       Bucket = "search"
	BucketContentFetch Bucket = "content_fetch"
	BucketReport       Bucket = "report"
)

// ErrRateLimited signals a per-key budget miss. Callers treat it as
// retryable: the budget refills as the minute window rolls.
type ErrRateLimited struct {
	Bucket Bucket
	Key    string
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (key %q)", e.Bucket, e.Key)
}

// ErrGlobalBudgetExhausted signals the rolling global content-fetch counter
// is spent for the current minute. Not retryable within the window.
type ErrGlobalBudgetExhausted struct {
	Limit int
}

func (e ErrGlobalBudgetExhausted) Error() string {
	return fmt.Sprintf("global content-fetch budget exhausted (%d/min)", e.Limit)
}

// Limiter tracks per-bucket, per-key request budgets plus a global
// content-fetch counter. It is the only mutable state shared across
// concurrent research branches, so every method is safe for concurrent use.
//
// A Limiter is owned by one orchestrator instance; two concurrent research
// runs share budgets only when they are handed the same Limiter.
type Limiter struct {
	cfg config.RateLimitConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	globalRemaining int
	globalReset     time.Time
	now             func() time.Time // test hook
}

// New builds a Limiter from config. When cfg.Enabled is false every Acquire
// succeeds.
func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:             cfg,
		limiters:        make(map[string]*rate.Limiter),
		globalRemaining: cfg.GlobalFetchPerMinute,
		now:             time.Now,
	}
}

// Acquire consumes one token from the bucket's per-key budget. It returns
// ErrRateLimited when the key is over budget. For BucketContentFetch the
// global counter is checked first and ErrGlobalBudgetExhausted is returned
// once it is spent, regardless of per-key headroom.
func (l *Limiter) Acquire(bucket Bucket, key string) error {
	if l == nil || !l.cfg.Enabled {
		return nil
	}
	if bucket == BucketContentFetch {
		if err := l.consumeGlobal(); err != nil {
			return err
		}
	}
	if !l.bucketLimiter(bucket, key).Allow() {
		return ErrRateLimited{Bucket: bucket, Key: key}
	}
	return nil
}

// GlobalRemaining reports the tokens left in the global content-fetch
// counter for the current minute window.
func (l *Limiter) GlobalRemaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollGlobalLocked()
	return l.globalRemaining
}

// SetGlobalRemaining overrides the global counter for the current window.
// Used by the orchestrator when a caller supplies a per-run fetch budget.
func (l *Limiter) SetGlobalRemaining(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollGlobalLocked()
	l.globalRemaining = n
}

func (l *Limiter) consumeGlobal() error {
	if l.cfg.GlobalFetchPerMinute <= 0 {
		return nil // no global cap configured
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollGlobalLocked()
	if l.globalRemaining <= 0 {
		return ErrGlobalBudgetExhausted{Limit: l.cfg.GlobalFetchPerMinute}
	}
	l.globalRemaining--
	return nil
}

// rollGlobalLocked resets the global counter once per minute.
func (l *Limiter) rollGlobalLocked() {
	now := l.now()
	if l.globalReset.IsZero() {
		l.globalReset = now.Add(time.Minute)
		return
	}
	if now.After(l.globalReset) {
		l.globalRemaining = l.cfg.GlobalFetchPerMinute
		l.globalReset = now.Add(time.Minute)
	}
}

func (l *Limiter) bucketLimiter(bucket Bucket, key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	mapKey := string(bucket) + "|" + key
	if lim, ok := l.limiters[mapKey]; ok {
		return lim
	}
	perMinute := l.perMinute(bucket)
	// burst of perMinute lets a fresh key spend its whole minute budget
	// immediately; refill then paces to the configured rate.
	lim := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	l.limiters[mapKey] = lim
	return lim
}

func (l *Limiter) perMinute(bucket Bucket) int {
	switch bucket {
	case BucketSearch:
		return l.cfg.SearchPerMinute
	case BucketContentFetch:
		return l.cfg.FetchPerMinute
	case BucketReport:
		return l.cfg.ReportPerMinute
	default:
		return 1
	}
}
