// Package engine provides agent orchestration functionality.
// This file contains error classification and handling.

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"     // Definitely retry
	RetryClassMaybe        RetryClass = "maybe"         // Retry with caution (limited attempts)
	RetryClassNonRetryable RetryClass = "non_retryable" // Never retry
)

// EngineError wraps provider errors with classification metadata.
type EngineError struct {
	Err         error
	Class       RetryClass
	HTTPStatus  int    // HTTP status code if applicable
	RetryAfter  string // Retry-After header value if present
	IsRateLimit bool
	IsTimeout   bool
	IsNetwork   bool
	IsAuth      bool
	IsQuota     bool
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("engine error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError with classification.
func NewEngineError(err error, class RetryClass) *EngineError {
	return &EngineError{
		Err:   err,
		Class: class,
	}
}

// ClassifyLLMError classifies an error from a provider call.
func ClassifyLLMError(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}

	errStr := strings.ToLower(err.Error())

	// Rate limit errors (429) - retryable, respect Retry-After
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "overloaded") {
		return RetryClassRetryable
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "529") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return RetryClassRetryable
	}

	// Context deadline exceeded - maybe (limited retries)
	if strings.Contains(errStr, "deadline exceeded") {
		return RetryClassMaybe
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "unexpected eof") {
		return RetryClassRetryable
	}

	if strings.Contains(errStr, "context length") ||
		strings.Contains(errStr, "maximum context length") {
		return RetryClassMaybe
	}

	// Auth, bad request, quota and safety refusals never succeed on retry.
	return RetryClassNonRetryable
}

// ExtractRetryAfter extracts the Retry-After value from an error.
// Returns 0 if not found or invalid.
func ExtractRetryAfter(err error) time.Duration {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		var seconds int
		if _, err := fmt.Sscanf(engineErr.RetryAfter, "%d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := time.Parse(time.RFC1123, engineErr.RetryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	return 0
}

// WrapLLMError wraps a provider error with classification metadata.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}

	class := ClassifyLLMError(err)
	switch {
	case httpStatus == http.StatusTooManyRequests || httpStatus >= 500:
		class = RetryClassRetryable
	case httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden ||
		httpStatus == http.StatusPaymentRequired || httpStatus == http.StatusBadRequest:
		class = RetryClassNonRetryable
	}

	return &EngineError{
		Err:         err,
		Class:       class,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsTimeout:   httpStatus == http.StatusGatewayTimeout || httpStatus == http.StatusRequestTimeout,
		IsNetwork:   httpStatus == 0 || httpStatus >= 500,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
		IsQuota:     httpStatus == http.StatusPaymentRequired,
	}
}

// RetryExhaustedError indicates that all retry attempts have been exhausted.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // True if this was a "maybe" class error with limited retries
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// NewRetryExhaustedError creates a new RetryExhaustedError.
func NewRetryExhaustedError(err error, attempts, maxAttempts int, isGuarded bool) *RetryExhaustedError {
	return &RetryExhaustedError{
		Err:         err,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		IsGuarded:   isGuarded,
	}
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// PlanValidationError means the planner's structured output did not decode
// into an allowed action. It is retryable.
type PlanValidationError struct {
	Tool   string
	Errors []string
	Raw    string // offending arguments, for logs only
}

func (e *PlanValidationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid planner output: %s", strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("tool %s validation failed: %s", e.Tool, strings.Join(e.Errors, "; "))
}

// FinishReasonError means the model stopped for a reason other than
// producing a tool call (length, text-only answer, content filter).
type FinishReasonError struct {
	Reason string
	Text   string // any text the model produced instead, for logs only
}

func (e *FinishReasonError) Error() string {
	return fmt.Sprintf("planner finished without a tool call (finish_reason=%s)", e.Reason)
}

// CancelledError is returned by planners when the call was aborted on purpose.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	if e.Err != nil {
		return "cancelled: " + e.Err.Error()
	}
	return "cancelled"
}

func (e *CancelledError) Unwrap() error { return e.Err }

// IsCancellation reports whether err represents a deliberate stop rather than a failure.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	var c *CancelledError
	return errors.As(err, &c) || errors.Is(err, context.Canceled)
}

// BudgetExhaustedError is returned when the iteration ceiling ends the loop.
type BudgetExhaustedError struct {
	MaxIterations int
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("iteration limit reached (%d) without a reply", e.MaxIterations)
}

// ClassifyPlanError decides whether a planner failure is worth another call.
func ClassifyPlanError(err error) RetryClass {
	if err == nil || IsCancellation(err) {
		return RetryClassNonRetryable
	}
	var pv *PlanValidationError
	var fr *FinishReasonError
	if errors.As(err, &pv) || errors.As(err, &fr) {
		return RetryClassRetryable
	}
	return ClassifyLLMError(err)
}

// EngineContextError wraps errors with execution context.
type EngineContextError struct {
	Err       error
	Iteration int
	ToolName  string // If error occurred during tool execution
	Operation string // "plan", "load_state", "persist_state", ...
}

func (e *EngineContextError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("[iteration=%d op=%s tool=%s] %v",
			e.Iteration, e.Operation, e.ToolName, e.Err)
	}
	return fmt.Sprintf("[iteration=%d op=%s] %v", e.Iteration, e.Operation, e.Err)
}

func (e *EngineContextError) Unwrap() error {
	return e.Err
}

// WrapWithContext wraps an error with execution context for debugging.
func WrapWithContext(err error, st *State, operation string, toolName string) error {
	if err == nil {
		return nil
	}
	return &EngineContextError{
		Err:       err,
		Iteration: st.Iteration,
		ToolName:  toolName,
		Operation: operation,
	}
}

const genericFailureMessage = "Something went wrong while working on your request. Please try again."

// SanitizeError maps err to a message that is safe to show to end users.
// Technical detail stays in the logs.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	var budget *BudgetExhaustedError
	if errors.As(err, &budget) {
		return fmt.Sprintf("Stopped after reaching the limit of %d steps. Send another message to continue.", budget.MaxIterations)
	}
	var pv *PlanValidationError
	var fr *FinishReasonError
	if errors.As(err, &pv) || errors.As(err, &fr) {
		return "The assistant returned a response we could not understand. Please try again."
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		switch {
		case engineErr.IsRateLimit:
			return "The AI service is busy right now. Please try again in a moment."
		case engineErr.IsAuth, engineErr.IsQuota:
			return "The AI service is unavailable. Please contact support if this persists."
		}
	}
	return genericFailureMessage
}
