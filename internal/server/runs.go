package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/logging"
	"github.com/ChamsBouzaiene/dyno/internal/progress"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// runRequest is the body of a build or ask request and the first frame of a
// WebSocket session.
type runRequest struct {
	Variant    string `json:"variant,omitempty"` // WebSocket only
	Prompt     string `json:"prompt"`
	UserID     string `json:"userId"`
	SandboxID  string `json:"sandboxId"`
	WorkingDir string `json:"workingDir"`
}

// requestError carries the HTTP status for a rejected run.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func reject(status int, format string, args ...any) error {
	return &requestError{status: status, msg: fmt.Sprintf(format, args...)}
}

// preparedRun is a validated request ready to execute.
type preparedRun struct {
	agent *engine.Agent
	inv   engine.Invocation
}

// prepare validates req and resolves the agent and sandbox.
func (s *Server) prepare(ctx context.Context, projectID, variant string, req runRequest) (*preparedRun, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, reject(http.StatusBadRequest, "prompt is required")
	}
	if req.SandboxID == "" {
		return nil, reject(http.StatusBadRequest, "sandboxId is required")
	}
	agent, err := s.deps.Agents.Agent(variant)
	if err != nil {
		return nil, reject(http.StatusBadRequest, "%v", err)
	}

	if s.deps.Ledger != nil && req.UserID != "" {
		balance, err := s.deps.Ledger.Balance(ctx, req.UserID)
		if err != nil {
			slog.Error("failed to read balance", "user", req.UserID, "error", err)
			return nil, reject(http.StatusInternalServerError, "failed to read balance")
		}
		if balance <= 0 {
			return nil, reject(http.StatusPaymentRequired, "insufficient credits")
		}
	}

	sb, err := s.deps.Sandboxes.Get(ctx, req.SandboxID)
	if errors.Is(err, sandbox.ErrNotFound) {
		return nil, reject(http.StatusNotFound, "sandbox %s not found", req.SandboxID)
	}
	if err != nil {
		slog.Error("failed to resolve sandbox", "sandbox", req.SandboxID, "error", err)
		return nil, reject(http.StatusBadGateway, "sandbox unavailable")
	}

	return &preparedRun{
		agent: agent,
		inv: engine.Invocation{
			ID:         protocol.NewInvocationID(),
			ProjectID:  projectID,
			UserID:     req.UserID,
			Prompt:     req.Prompt,
			WorkingDir: req.WorkingDir,
			Sandbox:    sb,
		},
	}, nil
}

// execute runs p with panic capture. A panicking run still reports a failure.
func execute(ctx context.Context, p *preparedRun) (res engine.Result) {
	defer func() {
		if v := recover(); v != nil {
			logging.CapturePanic(v, "project", p.inv.ProjectID, "invocation", p.inv.ID)
			res = engine.Result{InvocationID: p.inv.ID, Outcome: engine.OutcomeFailed, Err: fmt.Errorf("panic: %v", v)}
			_ = p.inv.Sink.Emit(context.WithoutCancel(ctx), protocol.NewErrorEvent(p.inv.ProjectID, engine.SanitizeError(res.Err), ""))
		}
	}()
	return p.agent.Run(ctx, p.inv)
}

func (s *Server) handleRun(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.PathValue("id")
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}

		p, err := s.prepare(r.Context(), projectID, variant, req)
		if err != nil {
			writeRequestError(w, err)
			return
		}

		if r.URL.Query().Get("mode") == "job" {
			s.startJob(w, r, p, variant)
			return
		}
		s.stream(w, r, p, variant)
	}
}

// stream runs p inside the request and streams events as SSE. A client
// disconnect stops the run.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, p *preparedRun, variant string) {
	ctx, release, ok := s.runs.acquire(r.Context(), p.inv.ProjectID, p.inv.ID, variant)
	if !ok {
		writeJSONError(w, http.StatusConflict, "project already has a running invocation")
		return
	}
	defer release()

	sse, err := progress.NewSSESink(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	keepalive := progress.KeepAlive(ctx, sse, s.deps.KeepAliveInterval)
	defer keepalive.Stop()

	p.inv.Sink = keepalive
	res := execute(ctx, p)
	slog.Info("stream finished", "project", p.inv.ProjectID, "invocation", p.inv.ID, "outcome", res.Outcome)
}

// startJob runs p in the background and answers 202 with the job id.
func (s *Server) startJob(w http.ResponseWriter, r *http.Request, p *preparedRun, variant string) {
	ctx, release, ok := s.runs.acquire(s.base, p.inv.ProjectID, p.inv.ID, variant)
	if !ok {
		writeJSONError(w, http.StatusConflict, "project already has a running invocation")
		return
	}

	job := progress.NewJob(p.inv.ProjectID, variant)
	if err := s.deps.Jobs.Create(r.Context(), job); err != nil {
		release()
		slog.Error("failed to create job", "project", p.inv.ProjectID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	p.inv.Sink = progress.NewJobSink(s.deps.Jobs, job.ID)

	go func() {
		defer release()
		res := execute(ctx, p)
		if err := s.deps.Jobs.Finish(context.WithoutCancel(ctx), job.ID, res); err != nil {
			slog.Error("failed to finish job", "job", job.ID, "error", err)
		}
		slog.Info("job finished", "job", job.ID, "project", p.inv.ProjectID, "outcome", res.Outcome)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":        job.ID,
		"invocationId": p.inv.ID,
	})
}

func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeJSONError(w, re.status, re.msg)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
