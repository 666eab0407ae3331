package completion

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Yinuo-Yao/xhs-recipe/internal/errors"
)

const (
	maxRetries   = 2
	retryBase    = 500 * time.Millisecond
	retryBackoff = 1500 * time.Millisecond
)

// withRetry runs fn with bounded exponential backoff. Only transient
// failures are retried; cancellation and every other class propagate on the
// first occurrence.
func withRetry(ctx context.Context, logger *log.Logger, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBase << (attempt - 1)
			if delay > retryBackoff {
				delay = retryBackoff
			}
			logger.Warn("retrying completion call", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", errors.NewCancelled("completion call")
			}
		}

		text, err := fn()
		if err == nil {
			return text, nil
		}
		if !errors.Retryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}
