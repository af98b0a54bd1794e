package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func TestWithRetry_Bound(t *testing.T) {
	delays := stubWait(t)
	calls := 0

	_, err := WithRetry(context.Background(), 3,
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})

	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("err = %v, want to wrap errTransient", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestWithRetry_NonRetryableShortCircuit(t *testing.T) {
	delays := stubWait(t)
	fatal := errors.New("fatal")
	calls := 0

	_, err := WithRetry(context.Background(), 3,
		func(err error) bool { return errors.Is(err, errTransient) },
		func(context.Context) (string, error) {
			calls++
			return "", fatal
		})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != fatal {
		t.Errorf("err = %v, want the original error unchanged", err)
	}
	if len(*delays) != 0 {
		t.Errorf("waited %v, want no waits", *delays)
	}
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	stubWait(t)
	calls := 0

	got, err := WithRetry(context.Background(), 3,
		func(error) bool { return true },
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "done", nil
		})

	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != "done" || calls != 3 {
		t.Errorf("got %q after %d calls, want done after 3", got, calls)
	}
}

func TestRetryWithPolicy_CancelledDuringWait(t *testing.T) {
	stubWait(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := RetryWithPolicy(ctx, DefaultPlanRetryPolicy(),
		func(context.Context) (int, error) {
			calls++
			cancel()
			return 0, errTransient
		},
		func(error) RetryClass { return RetryClassRetryable },
		nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) || !IsCancellation(err) {
		t.Errorf("err = %v, want a cancellation", err)
	}
}

func TestRetryWithPolicy_MaybeClassIsGuarded(t *testing.T) {
	stubWait(t)
	calls := 0
	policy := RetryPolicy{MaxRetries: 10, InitialDelay: time.Millisecond, Multiplier: 2}

	_, err := RetryWithPolicy(context.Background(), policy,
		func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		},
		func(error) RetryClass { return RetryClassMaybe },
		nil)

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) || !exhausted.IsGuarded {
		t.Errorf("err = %v, want guarded RetryExhaustedError", err)
	}
}

func TestRetryWithPolicy_OnRetryNumbersAttempts(t *testing.T) {
	stubWait(t)
	var attempts []int

	_, _ = RetryWithPolicy(context.Background(), DefaultPlanRetryPolicy(),
		func(context.Context) (int, error) { return 0, errTransient },
		func(error) RetryClass { return RetryClassRetryable },
		func(attempt int, _ time.Duration, _ error) { attempts = append(attempts, attempt) })

	if len(attempts) != 3 || attempts[0] != 1 || attempts[2] != 3 {
		t.Errorf("attempts = %v, want [1 2 3]", attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}

	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{name: "first", attempt: 0, err: errTransient, want: time.Second},
		{name: "third", attempt: 2, err: errTransient, want: 4 * time.Second},
		{name: "capped", attempt: 5, err: errTransient, want: 5 * time.Second},
		{name: "retry-after", attempt: 0, err: &EngineError{Err: errTransient, RetryAfter: "3"}, want: 3 * time.Second},
		{name: "retry-after capped", attempt: 0, err: &EngineError{Err: errTransient, RetryAfter: "60"}, want: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateDelay(policy, tt.attempt, tt.err); got != tt.want {
				t.Errorf("calculateDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyPlanError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetryClass
	}{
		{name: "validation", err: &PlanValidationError{Tool: "bash"}, want: RetryClassRetryable},
		{name: "finish reason", err: &FinishReasonError{Reason: "length"}, want: RetryClassRetryable},
		{name: "cancelled", err: &CancelledError{}, want: RetryClassNonRetryable},
		{name: "context cancelled", err: context.Canceled, want: RetryClassNonRetryable},
		{name: "rate limit", err: errors.New("429 too many requests"), want: RetryClassRetryable},
		{name: "auth", err: errors.New("401 unauthorized"), want: RetryClassNonRetryable},
		{name: "wrapped status", err: WrapLLMError(errors.New("boom"), 503, ""), want: RetryClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyPlanError(tt.err); got != tt.want {
				t.Errorf("ClassifyPlanError() = %v, want %v", got, tt.want)
			}
		})
	}
}
