// Package backoff provides bounded exponential retry for calls against the
// settlement ledger. Only errors the classifier marks retryable are retried;
// definitive rejections surface immediately.
package backoff

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded retry schedule. Delay doubles after every
// failed attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides which errors are worth another attempt. A nil
	// classifier retries everything up to the ceiling.
	Retryable func(error) bool
}

// DefaultPolicy matches the engine's ledger retry ceiling.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Retryable:   retryable,
	}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempt ceiling is reached, or ctx is done. The last error is returned
// once retries are exhausted.
func (p Policy) Retry(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}
