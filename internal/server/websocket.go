package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/progress"
)

const firstFrameWait = 30 * time.Second

// originChecker accepts requests without an Origin header (non-browser
// clients), same-host origins and the allowed ones.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// clientFrame is a control frame sent by the client during a run.
type clientFrame struct {
	Type string `json:"type"`
}

// handleWebSocket runs one invocation per connection. The first client frame
// is the run request; a later {"type":"cancel"} frame or a disconnect stops
// the run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "project", projectID, "error", err)
		return
	}
	defer conn.Close()
	sink := progress.NewWebSocketSink(conn)

	var req runRequest
	conn.SetReadDeadline(time.Now().Add(firstFrameWait))
	if err := conn.ReadJSON(&req); err != nil {
		slog.Warn("websocket run request unreadable", "project", projectID, "error", err)
		_ = sink.Emit(r.Context(), protocol.NewErrorEvent(projectID, "invalid run request", ""))
		_ = sink.Close("invalid run request")
		return
	}
	conn.SetReadDeadline(time.Time{})
	if req.Variant == "" {
		req.Variant = engine.VariantBuild
	}

	p, err := s.prepare(r.Context(), projectID, req.Variant, req)
	if err != nil {
		_ = sink.Emit(r.Context(), protocol.NewErrorEvent(projectID, err.Error(), ""))
		_ = sink.Close(err.Error())
		return
	}

	ctx, release, ok := s.runs.acquire(s.base, projectID, p.inv.ID, req.Variant)
	if !ok {
		const msg = "project already has a running invocation"
		_ = sink.Emit(r.Context(), protocol.NewErrorEvent(projectID, msg, ""))
		_ = sink.Close(msg)
		return
	}
	defer release()

	go s.readControl(ctx, conn, projectID)

	keepalive := progress.KeepAlive(ctx, sink, s.deps.KeepAliveInterval)
	p.inv.Sink = keepalive
	res := execute(ctx, p)
	keepalive.Stop()

	_ = sink.Close(string(res.Outcome))
	slog.Info("websocket run finished", "project", projectID, "invocation", p.inv.ID, "outcome", res.Outcome)
}

// readControl consumes client frames until the connection closes. Cancel
// frames and disconnects stop the project's run.
func (s *Server) readControl(ctx context.Context, conn *websocket.Conn, projectID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Info("websocket client disconnected", "project", projectID)
				s.runs.stop(projectID)
			}
			return
		}
		var frame clientFrame
		if json.Unmarshal(data, &frame) == nil && frame.Type == string(protocol.CommandCancel) {
			s.runs.stop(projectID)
		}
	}
}
