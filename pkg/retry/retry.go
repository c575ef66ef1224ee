// Package retry provides a bounded retry policy with exponential backoff.
// The LLM call and transcript append paths share the same policy shape so
// that timeout and retry budgets are configured in one place.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt; it doubles each
	// attempt up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay (0 = no cap).
	MaxDelay time.Duration

	// Retryable reports whether an error is worth retrying. A nil
	// predicate retries every error.
	Retryable func(error) bool
}

// DefaultPolicy matches the budgets used for external calls: three
// attempts with 500ms initial backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is cancelled. It returns the last error from fn, or ctx.Err()
// if the context ended while backing off.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := p.BaseDelay

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
