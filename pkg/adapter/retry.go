package adapter

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/talk2sql/pkg/utils/logging"
)

// RetryConfig controls how transient provider errors are retried.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// backoff returns an exponential delay capped at maxDelay with ±25% jitter.
func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1))
	return d + jitter
}

// withRetry calls fn until it succeeds, returns a non-retryable error, or
// the attempts run out. Waiting honours ctx.
func withRetry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := backoff(cfg.BaseDelay, cfg.MaxDelay, i)
			logging.From(ctx).Debug("retrying provider call", "attempt", i+1, "delay", delay, "error", lastErr)

			select {
			case <-ctx.Done():
				return goerr.Wrap(ctx.Err(), "canceled while waiting for retry", goerr.V("last_error", lastErr))
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable == nil || !retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
