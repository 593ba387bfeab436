package resilience

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig defines retry behavior. Sleep is injectable so backoff timing
// is deterministically testable without real delays.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Sleep       func(context.Context, time.Duration) error
}

// DefaultRetryConfig provides the standard bounded backoff.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    30 * time.Second,
	Multiplier:  2.0,
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultRetryConfig.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = DefaultRetryConfig.Multiplier
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Backoff returns the delay before the given retry attempt (1-based):
// base * multiplier^(attempt-1), capped at MaxDelay.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// RetryCallback is invoked before each retry sleep.
type RetryCallback func(attempt int, delay time.Duration, err *ClassifiedError)

// Do runs op up to cfg.MaxAttempts times, sleeping with exponential backoff
// between attempts. Only retryable classified failures are retried; the
// final failing classified error is what propagates to the caller.
func Do(ctx context.Context, cfg RetryConfig, op func(context.Context) error, onRetry RetryCallback) error {
	cfg = cfg.withDefaults()

	var lastErr *ClassifiedError
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		lastErr = Classify(err)
		if !lastErr.Retryable || attempt == cfg.MaxAttempts {
			return lastErr
		}

		delay := cfg.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, lastErr)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithTimeout races op against a deadline. The race is advisory, not
// cooperative cancellation: if op does not settle in time, a TIMEOUT error
// is returned and op's eventual result is discarded. Replays stay safe
// because the store's upserts are idempotent.
func WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return newClassified(TypeTimeout, true, 0,
			fmt.Errorf("operation did not finish within %s: %w", d, ctx.Err()))
	}
}
