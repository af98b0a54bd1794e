package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

const defaultWriteWait = 10 * time.Second

// WebSocketSink sends each event as a JSON text frame.
type WebSocketSink struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
}

// NewWebSocketSink wraps an upgraded connection. The caller owns conn.
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn, writeWait: defaultWriteWait}
}

// Emit implements engine.ProgressSink.
func (s *WebSocketSink) Emit(_ context.Context, ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write websocket event: %w", err)
	}
	return nil
}

// Ping implements Pinger.
func (s *WebSocketSink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait))
}

// Close sends a normal close frame.
func (s *WebSocketSink) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeWait))
}
