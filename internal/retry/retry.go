package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/agentgraph/pkg/schema"
)

// DefaultPolicy is applied to provider calls when no policy is configured.
var DefaultPolicy = &schema.RetryPolicy{
	Max:      2,
	Backoff:  schema.BackoffExponential,
	Delay:    schema.Duration(500 * time.Millisecond),
	MaxDelay: schema.Duration(10 * time.Second),
}

// IsRetryableError classifies whether an error should be retried.
// Retryable: network errors, deadline exceeded, FlowErrors with retryable
// codes. Non-retryable: cancellation, validation and decision errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is retryable (call timeout, not run-level).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled is NOT retryable: the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// FlowError checks its own code.
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.IsRetryable()
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
		"rate limit",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ComputeBackoff calculates the delay before the next retry attempt.
// Supports constant, linear, and exponential backoff with an optional
// max_delay cap. Exponential is the default.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == 0 {
		return 0
	}

	base := policy.Delay.Std()

	var delay time.Duration
	switch policy.Backoff {
	case schema.BackoffConstant:
		delay = base
	case schema.BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default: // exponential
		multiplier := time.Duration(1)
		for i := 0; i < attempt; i++ {
			multiplier *= 2
		}
		delay = base * multiplier
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay.Std() {
		delay = policy.MaxDelay.Std()
	}

	return delay
}

// Wait sleeps for the computed backoff duration or returns early if the
// context is cancelled during the wait.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn up to policy.Max+1 times, waiting between attempts, and stops
// early on non-retryable errors or context cancellation. The returned error
// on exhaustion is RETRY_EXHAUSTED carrying the last cause and attempt count.
func Do[T any](ctx context.Context, policy *schema.RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := 1
	if policy != nil && policy.Max > 0 {
		maxAttempts = policy.Max + 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := Wait(ctx, ComputeBackoff(policy, attempt-1)); err != nil {
				return zero, schema.NewErrorf(schema.ErrCodeCancelled,
					"retry wait aborted: %s", err.Error()).WithCause(err).WithAttempt(attempt)
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == maxAttempts-1 {
			break
		}
	}

	if maxAttempts > 1 && IsRetryableError(lastErr) {
		return zero, schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"retries exhausted after %d attempts: %s", maxAttempts, lastErr.Error()).
			WithCause(lastErr).WithAttempt(maxAttempts)
	}
	return zero, lastErr
}
