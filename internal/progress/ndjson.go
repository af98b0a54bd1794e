package progress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

// NDJSONSink writes one JSON event per line and flushes after each.
type NDJSONSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewNDJSONSink creates a sink writing to w.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{w: bufio.NewWriter(w)}
}

// Emit implements engine.ProgressSink.
func (s *NDJSONSink) Emit(_ context.Context, ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return s.w.Flush()
}
