// engine/hook_logger.go
package engine

import (
	"context"
	"log/slog"
	"time"
)

// LoggerHook writes one structured line per loop event.
type LoggerHook struct{ L *slog.Logger }

func (h LoggerHook) logger(st *State) *slog.Logger {
	l := h.L
	if l == nil {
		l = slog.Default()
	}
	return l.With("project", st.ProjectID, "invocation", st.InvocationID, "variant", st.Variant)
}

func (h LoggerHook) OnRunStart(_ context.Context, st *State) {
	h.logger(st).Info("agent run started", "history", len(st.History), "max_iterations", st.MaxIterations)
}
func (h LoggerHook) OnIterationStart(_ context.Context, st *State) {
	h.logger(st).Debug("iteration", "iteration", st.Iteration)
}
func (h LoggerHook) OnBeforePlan(_ context.Context, st *State, req PlanRequest) {
	h.logger(st).Debug("planning", "iteration", st.Iteration, "messages", len(req.History), "todos", len(req.Todos))
}
func (h LoggerHook) OnAfterPlan(_ context.Context, st *State, r PlanResponse, took time.Duration, err error) {
	l := h.logger(st)
	if err != nil {
		// Cancellations are not failures.
		if IsCancellation(err) {
			l.Info("planner call cancelled", "iteration", st.Iteration)
			return
		}
		l.Warn("planner call failed", "iteration", st.Iteration, "model", r.Model, "took", took, "error", err)
		return
	}
	l.Info("planner call",
		"iteration", st.Iteration,
		"tool", r.Call.Name(),
		"model", r.Model,
		"input_tokens", r.Usage.InputTokens,
		"output_tokens", r.Usage.OutputTokens,
		"cached_tokens", r.Usage.CachedInputTokens,
		"took", took)
}
func (h LoggerHook) OnToolCall(_ context.Context, st *State, c ToolCall) {
	h.logger(st).Info("tool call", "iteration", st.Iteration, "tool", c.Name(), "description", Describe(c.Action))
}
func (h LoggerHook) OnToolResult(_ context.Context, st *State, c ToolCall, r ToolResult, took time.Duration) {
	preview := r.Text
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	h.logger(st).Debug("tool result", "tool", c.Name(), "took", took, "result", preview)
}
func (h LoggerHook) OnDone(_ context.Context, st *State, res Result) {
	l := h.logger(st)
	attrs := []any{
		"outcome", res.Outcome,
		"iterations", res.Iterations,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"cost_usd", res.Cost,
	}
	if res.Err != nil && res.Outcome != OutcomeStopped {
		attrs = append(attrs, "error", res.Err)
	}
	l.Info("agent run finished", attrs...)
}
func (h LoggerHook) OnRetryAttempt(_ context.Context, st *State, attempt int, maxAttempts int, delay time.Duration, err error) {
	h.logger(st).Warn("retrying planner call", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay, "error", err)
}
func (h LoggerHook) OnRetryExhausted(_ context.Context, st *State, err error) {
	h.logger(st).Error("planner retries exhausted", "error", err)
}
func (h LoggerHook) OnRetryRecovered(_ context.Context, st *State, retries int) {
	h.logger(st).Info("planner call recovered after retry", "retries", retries)
}
