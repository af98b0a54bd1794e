// Package server exposes agent runs over HTTP: Server-Sent Events, background
// jobs and WebSockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChamsBouzaiene/dyno/internal/billing"
	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/logging"
	"github.com/ChamsBouzaiene/dyno/internal/progress"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// Agents resolves an agent by variant name.
type Agents interface {
	Agent(variant string) (*engine.Agent, error)
}

// Sandboxes resolves sandbox handles.
type Sandboxes interface {
	Get(ctx context.Context, id string) (sandbox.Sandbox, error)
}

// Conversations deletes stored conversation history.
type Conversations interface {
	Delete(ctx context.Context, projectID string) error
}

// Deps are the collaborators of the server.
type Deps struct {
	Agents        Agents
	Sandboxes     Sandboxes
	Conversations Conversations
	Jobs          progress.JobStore
	Ledger        billing.Ledger // nil disables balance checks

	KeepAliveInterval time.Duration
	// AllowedOrigins lists the browser origins (scheme://host[:port]) that may
	// open run sockets besides the server's own host. "*" allows any origin.
	AllowedOrigins []string
}

// Server routes HTTP requests to agent runs.
type Server struct {
	deps Deps
	mux      *http.ServeMux
	runs     *registry
	upgrader websocket.Upgrader

	// base is the parent of background job contexts.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a server with all routes registered.
func New(deps Deps) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		runs:   newRegistry(),
		base:   base,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(deps.AllowedOrigins),
	}

	s.mux.HandleFunc("POST /v1/projects/{id}/build", s.handleRun(engine.VariantBuild))
	s.mux.HandleFunc("POST /v1/projects/{id}/ask", s.handleRun(engine.VariantAsk))
	s.mux.HandleFunc("POST /v1/projects/{id}/stop", s.handleStop)
	s.mux.HandleFunc("GET /v1/projects/{id}/ws", s.handleWebSocket)
	s.mux.HandleFunc("DELETE /v1/projects/{id}/conversation", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /v1/users/{id}/balance", s.handleBalance)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// Handler returns the root handler with panic recovery.
func (s *Server) Handler() http.Handler {
	return recoverPanics(s.mux)
}

// Shutdown stops every running invocation and waits for them to settle.
func (s *Server) Shutdown(ctx context.Context) error {
	s.runs.stopAll()
	s.cancel()
	return s.runs.wait(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	run, ok := s.runs.stop(projectID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no running invocation for project")
		return
	}
	slog.Info("stop requested", "project", projectID, "invocation", run.invocationID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "stopping",
		"invocationId": run.invocationID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, progress.ErrJobNotFound) {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		slog.Error("failed to load job", "job", r.PathValue("id"), "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeJSONError(w, http.StatusNotFound, "billing is disabled")
		return
	}
	userID := r.PathValue("id")
	balance, err := s.deps.Ledger.Balance(r.Context(), userID)
	if err != nil {
		slog.Error("failed to read balance", "user", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "balance": balance})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if s.runs.busy(projectID) {
		writeJSONError(w, http.StatusConflict, "project has a running invocation")
		return
	}
	if err := s.deps.Conversations.Delete(r.Context(), projectID); err != nil {
		slog.Error("failed to delete conversation", "project", projectID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logging.CapturePanic(v, "method", r.Method, "path", r.URL.Path)
				writeJSONError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
