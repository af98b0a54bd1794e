// engine/hooks.go
package engine

import (
	"context"
	"time"
)

// Hook observes the agent loop. Implementations must not block.
type Hook interface {
	OnRunStart(ctx context.Context, st *State)
	OnIterationStart(ctx context.Context, st *State)
	OnBeforePlan(ctx context.Context, st *State, req PlanRequest)
	OnAfterPlan(ctx context.Context, st *State, resp PlanResponse, took time.Duration, err error)
	OnToolCall(ctx context.Context, st *State, call ToolCall)
	OnToolResult(ctx context.Context, st *State, call ToolCall, result ToolResult, took time.Duration)
	OnDone(ctx context.Context, st *State, res Result)
	// Retry hooks
	OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error)
	OnRetryExhausted(ctx context.Context, st *State, err error)
	OnRetryRecovered(ctx context.Context, st *State, retries int)
}

// NopHook lets you implement any hook you need.
type NopHook struct{}

func (NopHook) OnRunStart(context.Context, *State)                                        {}
func (NopHook) OnIterationStart(context.Context, *State)                                  {}
func (NopHook) OnBeforePlan(context.Context, *State, PlanRequest)                         {}
func (NopHook) OnAfterPlan(context.Context, *State, PlanResponse, time.Duration, error)   {}
func (NopHook) OnToolCall(context.Context, *State, ToolCall)                              {}
func (NopHook) OnToolResult(context.Context, *State, ToolCall, ToolResult, time.Duration) {}
func (NopHook) OnDone(context.Context, *State, Result)                                    {}
func (NopHook) OnRetryAttempt(context.Context, *State, int, int, time.Duration, error)    {}
func (NopHook) OnRetryExhausted(context.Context, *State, error)                           {}
func (NopHook) OnRetryRecovered(context.Context, *State, int)                             {}
