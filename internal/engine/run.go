package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/google/uuid"
)

const (
	statusThinking = "Thinking..."
	statusRetrying = "Retrying..."
	titleTimeout   = 15 * time.Second
)

// run is the per-invocation driver behind Agent.Run.
type run struct {
	agent *Agent
	inv   Invocation
	st    *State
	tab   *usageTab
}

// execute is the loop:
//
//	load -> [cancel? budget? -> plan -> reply? | tool -> cancel?]* -> finish
func (r *run) execute(ctx context.Context) Result {
	a := r.agent
	history, err := a.store.Get(ctx, r.inv.ProjectID)
	if err != nil {
		err = WrapWithContext(err, r.st, "load_state", "")
		slog.Error("failed to load conversation", "project", r.inv.ProjectID, "error", err)
		// Nothing is persisted: writing back would drop the stored history.
		return r.finish(ctx, OutcomeFailed, err, false,
			protocol.NewErrorEvent(r.inv.ProjectID, SanitizeError(err), ""))
	}

	firstTurn := len(history) == 0
	r.st.History = append(make([]Message, 0, len(history)+1), history...)
	r.st.Append(UserMessage(r.inv.Prompt))
	r.st.Iteration = 0

	a.hooks.OnRunStart(ctx, r.st)
	r.emit(ctx, protocol.NewAgentStartedEvent(r.inv.ProjectID, "Agent started"))

	if firstTurn && a.titler != nil {
		r.title(ctx)
	}

	systemPrompt, err := a.systemPrompt(r.inv.WorkingDir)
	if err != nil {
		return r.fail(ctx, WrapWithContext(err, r.st, "system_prompt", ""))
	}

	for {
		if r.cancelled(ctx) {
			return r.stop(ctx)
		}
		// The ceiling is only checked here, so a reply from the last
		// permitted call still completes.
		if r.st.Iteration >= r.st.MaxIterations {
			err := &BudgetExhaustedError{MaxIterations: r.st.MaxIterations}
			return r.finish(ctx, OutcomeBudgetExhausted, err, true,
				protocol.NewErrorEvent(r.inv.ProjectID, SanitizeError(err), "iteration_limit"))
		}

		a.hooks.OnIterationStart(ctx, r.st)
		r.emit(ctx, protocol.NewStatusEvent(r.inv.ProjectID, statusThinking))

		resp, err := r.plan(ctx, systemPrompt)
		if err != nil {
			if IsCancellation(err) || r.cancelled(ctx) {
				return r.stop(ctx)
			}
			return r.fail(ctx, WrapWithContext(err, r.st, "plan", ""))
		}

		call := resp.Call
		if reply, ok := call.Action.(ReplyToUser); ok {
			r.st.Append(AssistantText(reply.Message))
			files := r.st.Files
			if len(files) == 0 {
				files = FilesFromHistory(r.st.History)
			}
			res := r.finish(ctx, OutcomeCompleted, nil, true,
				protocol.NewCompleteEvent(r.inv.ProjectID, reply.Message, files))
			res.Reply = reply.Message
			res.Files = files
			return res
		}

		r.emit(ctx, protocol.NewIterationEvent(r.inv.ProjectID, r.st.Iteration+1,
			call.Name(), Describe(call.Action), protocol.CurrentTodo(r.st.Todos)))
		a.hooks.OnToolCall(ctx, r.st, call)

		start := time.Now()
		result := a.tools.Execute(ctx, r.inv.Sandbox, call, r.inv.WorkingDir, r.st.Todos)
		a.hooks.OnToolResult(ctx, r.st, call, result, time.Since(start))

		if result.TodosUpdated {
			r.st.Todos = result.Todos
			r.emit(ctx, protocol.NewTodoUpdateEvent(r.inv.ProjectID, r.st.Todos))
		}
		if result.File != nil {
			r.st.Files[result.File.Path] = result.File.Content
		}

		r.st.Append(ToolCallMessage(call))
		r.st.Append(ToolResultMessage(call.ID, result.Text))
		r.st.Iteration++
		// Checked again before the next planner call at the top of the loop.
	}
}

// plan calls the planner through the retry wrapper. Usage of every attempt is
// recorded, including failed ones.
func (r *run) plan(ctx context.Context, systemPrompt string) (PlanResponse, error) {
	a := r.agent
	v := a.config.Variant
	req := PlanRequest{
		Variant:      v.Name,
		SystemPrompt: systemPrompt,
		History:      r.st.snapshot(),
		WorkingDir:   r.inv.WorkingDir,
		Allowed:      v.Allowed,
	}
	if v.TrackTodos {
		req.Todos = append([]protocol.TodoItem{}, r.st.Todos...)
	}
	a.hooks.OnBeforePlan(ctx, r.st, req)

	policy := a.config.RetryPolicy
	retries := 0
	resp, err := RetryWithPolicy(ctx, policy,
		func(ctx context.Context) (PlanResponse, error) {
			start := time.Now()
			resp, err := a.planner.Plan(ctx, req)
			if err == nil {
				err = r.checkCall(&resp.Call)
			}
			took := time.Since(start)
			r.tab.record(ctx, r.st.Iteration, resp, took, err != nil)
			a.hooks.OnAfterPlan(ctx, r.st, resp, took, err)
			return resp, err
		},
		ClassifyPlanError,
		func(attempt int, delay time.Duration, err error) {
			retries = attempt
			r.st.Retries++
			a.hooks.OnRetryAttempt(ctx, r.st, attempt, policy.MaxRetries, delay, err)
			r.emit(ctx, protocol.NewStatusEvent(r.inv.ProjectID, statusRetrying))
		},
	)
	if err != nil {
		if IsRetryExhausted(err) {
			a.hooks.OnRetryExhausted(ctx, r.st, err)
		}
		return PlanResponse{}, err
	}
	if retries > 0 {
		a.hooks.OnRetryRecovered(ctx, r.st, retries)
	}
	return resp, nil
}

// checkCall rejects calls outside the variant and fills in a missing id.
func (r *run) checkCall(call *ToolCall) error {
	if call.Action == nil {
		return &PlanValidationError{Errors: []string{"response contained no action"}}
	}
	if !r.agent.config.Variant.Allows(call.Action.Kind()) {
		return &PlanValidationError{
			Tool:   call.Name(),
			Errors: []string{fmt.Sprintf("not available to the %s agent", r.agent.config.Variant.Name)},
		}
	}
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	return nil
}

func (r *run) title(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	title, err := r.agent.titler.Title(tctx, r.inv.Prompt)
	if err != nil || title == "" {
		if err != nil && !IsCancellation(err) {
			slog.Warn("failed to generate conversation title", "project", r.inv.ProjectID, "error", err)
		}
		return
	}
	r.emit(ctx, protocol.NewTitleUpdatedEvent(r.inv.ProjectID, title))
}

func (r *run) cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (r *run) stop(ctx context.Context) Result {
	slog.Info("agent run stopped", "project", r.inv.ProjectID, "invocation", r.inv.ID, "iteration", r.st.Iteration)
	return r.finish(ctx, OutcomeStopped, &CancelledError{Err: ctx.Err()}, true,
		protocol.NewStoppedEvent(r.inv.ProjectID, "Stopped"))
}

func (r *run) fail(ctx context.Context, err error) Result {
	slog.Error("agent run failed", "project", r.inv.ProjectID, "invocation", r.inv.ID, "error", err)
	var details string
	if IsRetryExhausted(err) {
		details = "retries_exhausted"
	}
	return r.finish(ctx, OutcomeFailed, err, true,
		protocol.NewErrorEvent(r.inv.ProjectID, SanitizeError(err), details))
}

// finish is the single exit: persist, settle usage, then emit the terminal
// event. All three run on a context that ignores cancellation.
func (r *run) finish(ctx context.Context, outcome Outcome, err error, persist bool, terminal protocol.Event) Result {
	dctx := context.WithoutCancel(ctx)

	if persist {
		if perr := r.agent.store.Set(dctx, r.inv.ProjectID, r.st.snapshot()); perr != nil {
			slog.Error("failed to persist conversation",
				"project", r.inv.ProjectID, "invocation", r.inv.ID, "messages", len(r.st.History), "error", perr)
		}
	}
	r.tab.flush(dctx)
	r.emit(dctx, terminal)

	usage, cost := r.tab.totals()
	res := Result{
		InvocationID: r.inv.ID,
		Outcome:      outcome,
		Iterations:   r.st.Iteration,
		History:      r.st.snapshot(),
		Usage:        usage,
		Cost:         cost,
		Err:          err,
	}
	r.agent.hooks.OnDone(dctx, r.st, res)
	return res
}

func (r *run) emit(ctx context.Context, ev protocol.Event) {
	if err := r.inv.Sink.Emit(ctx, ev); err != nil {
		slog.Warn("failed to emit progress event", "project", r.inv.ProjectID, "type", ev.GetType(), "error", err)
	}
}
