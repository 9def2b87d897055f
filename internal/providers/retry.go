package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// HTTPError is a non-success provider response, surfaced with status and body
// so the caller can log or display the provider's own error message.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // 0 = no Retry-After header
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status indicates a transient failure.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds form).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// RetryConfig controls connection-phase retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// RetryDo runs fn with exponential backoff on retryable HTTP errors.
// Cancellation aborts immediately and is returned as-is so callers can
// distinguish it from provider faults.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || !httpErr.Retryable() || attempt == cfg.MaxAttempts {
			return zero, err
		}
		lastErr = err

		delay := cfg.BaseDelay * time.Duration(1<<(attempt-1))
		if httpErr.RetryAfter > delay {
			delay = httpErr.RetryAfter
		}
		slog.Warn("provider retry", "attempt", attempt, "max", cfg.MaxAttempts, "delay", delay, "status", httpErr.Status)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
