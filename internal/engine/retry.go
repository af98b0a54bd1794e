package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for an operation.
type RetryPolicy struct {
	MaxRetries   int           // Maximum number of retry attempts (0 = no retries)
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay cap (0 = uncapped)
	Multiplier   float64       // Exponential backoff multiplier (e.g., 2.0)
	Jitter       bool          // Whether to add random jitter to delays
}

// DefaultPlanRetryPolicy is used for planner calls: 1s, 2s, 4s.
func DefaultPlanRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// wait blocks for d or until ctx is done. Tests replace it.
var wait = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryWithPolicy executes fn, retrying while classifyError allows it.
// onRetry, if set, is called before each wait with the 1-based retry number.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classifyError func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T

	attempt := 0

	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		class := classifyError(err)
		if class == RetryClassNonRetryable {
			return zero, err
		}

		if attempt >= policy.MaxRetries {
			return zero, NewRetryExhaustedError(err, attempt+1, policy.MaxRetries+1, false)
		}

		// For "maybe" class, limit to 2 retries
		if class == RetryClassMaybe && attempt >= 2 {
			return zero, NewRetryExhaustedError(err, attempt+1, 3, true)
		}

		delay := calculateDelay(policy, attempt, err)

		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		if werr := wait(ctx, delay); werr != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", werr)
		}

		attempt++
	}
}

// WithRetry invokes fn up to maxAttempts+1 times. After a failure matching
// retryable it waits 2^attempt seconds (1s, 2s, 4s, ...); any other error is
// returned immediately.
func WithRetry[T any](ctx context.Context, maxAttempts int, retryable func(error) bool, fn RetryableFunc[T]) (T, error) {
	policy := RetryPolicy{
		MaxRetries:   maxAttempts,
		InitialDelay: time.Second,
		Multiplier:   2.0,
	}
	classify := func(err error) RetryClass {
		if retryable(err) {
			return RetryClassRetryable
		}
		return RetryClassNonRetryable
	}
	return RetryWithPolicy(ctx, policy, fn, classify, nil)
}

// calculateDelay computes the delay for a retry attempt.
func calculateDelay(policy RetryPolicy, attempt int, err error) time.Duration {
	if retryAfter := ExtractRetryAfter(err); retryAfter > 0 {
		if policy.MaxDelay > 0 && retryAfter > policy.MaxDelay {
			return policy.MaxDelay
		}
		return retryAfter
	}

	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(policy.InitialDelay) * math.Pow(multiplier, float64(attempt))

	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	// 0-20% random variation
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}

	return time.Duration(delay)
}
