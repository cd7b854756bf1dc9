package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig holds the parameters for the retry strategy. A zero Delay
// retries immediately.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Logger      *slog.Logger
}

// Do executes fn until it succeeds or MaxAttempts is reached.
func (r RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	attempts := max(r.MaxAttempts, 1)
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < attempts {
			logger.Warn("retrying", "op", operationName, "attempt", attempt, "of", attempts, "err", lastErr)
			if r.Delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.Delay):
				}
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}
