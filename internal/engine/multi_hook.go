package engine

import (
	"context"
	"time"
)

// Hooks fans every callback out to each hook in order.
type Hooks []Hook

func (hs Hooks) OnRunStart(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnRunStart(ctx, st)
	}
}
func (hs Hooks) OnIterationStart(ctx context.Context, st *State) {
	for _, h := range hs {
		h.OnIterationStart(ctx, st)
	}
}
func (hs Hooks) OnBeforePlan(ctx context.Context, st *State, req PlanRequest) {
	for _, h := range hs {
		h.OnBeforePlan(ctx, st, req)
	}
}
func (hs Hooks) OnAfterPlan(ctx context.Context, st *State, resp PlanResponse, took time.Duration, err error) {
	for _, h := range hs {
		h.OnAfterPlan(ctx, st, resp, took, err)
	}
}
func (hs Hooks) OnToolCall(ctx context.Context, st *State, c ToolCall) {
	for _, h := range hs {
		h.OnToolCall(ctx, st, c)
	}
}
func (hs Hooks) OnToolResult(ctx context.Context, st *State, c ToolCall, r ToolResult, took time.Duration) {
	for _, h := range hs {
		h.OnToolResult(ctx, st, c, r, took)
	}
}
func (hs Hooks) OnDone(ctx context.Context, st *State, res Result) {
	for _, h := range hs {
		h.OnDone(ctx, st, res)
	}
}
func (hs Hooks) OnRetryAttempt(ctx context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	for _, h := range hs {
		h.OnRetryAttempt(ctx, st, attempt, maxAttempts, delay, err)
	}
}
func (hs Hooks) OnRetryExhausted(ctx context.Context, st *State, err error) {
	for _, h := range hs {
		h.OnRetryExhausted(ctx, st, err)
	}
}
func (hs Hooks) OnRetryRecovered(ctx context.Context, st *State, retries int) {
	for _, h := range hs {
		h.OnRetryRecovered(ctx, st, retries)
	}
}
