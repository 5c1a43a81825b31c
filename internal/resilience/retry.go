// Package resilience provides the retry and backoff primitives the OSS
// client and the OpenAI-compatible chat client use around network calls.
package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted wraps the last error once MaxAttempts is reached.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BackoffFunc computes the delay before the given retry (1-based: the
// delay before the *second* attempt is BackoffFunc(1)).
type BackoffFunc func(retry int) time.Duration

// LinearSeconds is a 1-second-linear backoff: sleep 1s before the 2nd
// attempt, 2s before the 3rd, 3s before the 4th.
func LinearSeconds(retry int) time.Duration {
	return time.Duration(retry) * time.Second
}

// Do runs fn up to maxAttempts times, sleeping backoff(retry) between
// attempts, and stops early on ctx cancellation. retry passed to backoff
// is 1-based (the attempt number just completed).
func Do(ctx context.Context, maxAttempts int, backoff BackoffFunc, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return errors.Join(ErrRetriesExhausted, lastErr)
}
