package persistence

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig tunes how many times writeOne retries a transient store
// failure, and how long it waits between attempts, before giving up and
// falling back to the overflow log. Defaults and field names mirror
// spec.md §6's persist.retry.maxAttempts / persist.retry.backoffBase
// configuration keys.
type RetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig bounds a write to 3 attempts with a 100ms base
// backoff, doubling up to a 10s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffBase: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

type retryResult struct {
	attempts int
	err      error
}

// retryWrite attempts op up to cfg.MaxAttempts times, waiting a jittered,
// doubling backoff between attempts and stopping early if ctx is done.
// It does not distinguish permanent from transient errors — a store
// write either succeeds, returns store.ErrDuplicate (treated as success
// by the caller), or is assumed retryable — since the only failures
// writeOne sees in practice are connectivity/contention errors.
func retryWrite(ctx context.Context, cfg RetryConfig, op func() error) retryResult {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	delay := cfg.BackoffBase
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return retryResult{attempts: attempt, err: ctx.Err()}
		}

		if err := op(); err == nil {
			return retryResult{attempts: attempt}
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		jittered := time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter does not require cryptographic randomness
		select {
		case <-ctx.Done():
			return retryResult{attempts: attempt, err: ctx.Err()}
		case <-time.After(jittered):
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return retryResult{attempts: cfg.MaxAttempts, err: lastErr}
}
