package kestrel

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff for provider calls.
//
// Delay before attempt k (k >= 2) is
//
//	min(MaxDelay, BaseDelay * ExponentialBase^(k-2)) * uniform[1-J, 1+J]
//
// where J is JitterFactor. Jitter spreads retries from concurrent loops so
// they do not hammer a recovering provider in lockstep.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the pre-jitter delay.
	MaxDelay time.Duration

	// ExponentialBase is the delay growth factor between retries.
	ExponentialBase float64

	// JitterFactor is the +/- fraction applied to each delay, in [0, 1).
	JitterFactor float64
}

// DefaultRetryConfig returns the standard policy: 3 attempts, 1s base delay
// doubling up to 30s, with 20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0.2,
	}
}

// Delay returns the sleep before the given retry (1-based: retry 1 follows
// the first failed attempt).
func (c RetryConfig) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(retry-1))
	if max := float64(c.MaxDelay); c.MaxDelay > 0 && base > max {
		base = max
	}
	if c.JitterFactor > 0 {
		base *= 1 - c.JitterFactor + 2*c.JitterFactor*rand.Float64()
	}
	return time.Duration(base)
}

// Retry runs fn until it succeeds, exhausts the attempt budget, fails
// permanently, or ctx is done.
//
// Classification drives the outcome: a PermanentError aborts immediately
// with no sleep; anything else is treated as transient and retried. On
// budget exhaustion the last error is returned wrapped with the attempt
// count.
func Retry[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(config.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !IsTransient(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("kestrel: %d attempts exhausted: %w", attempts, lastErr)
}
