// Package progress delivers engine progress events to observers over NDJSON,
// Server-Sent Events, WebSockets or a stored job timeline.
package progress

import (
	"context"
	"errors"
	"sync"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

// Pinger is a sink that can send a transport-level keepalive.
type Pinger interface {
	engine.ProgressSink
	Ping(ctx context.Context) error
}

// Discard drops every event.
type Discard struct{}

// Emit implements engine.ProgressSink.
func (Discard) Emit(context.Context, protocol.Event) error { return nil }

// Multi fans events out to several sinks. Every sink receives every event;
// the errors are joined.
type Multi []engine.ProgressSink

// Emit implements engine.ProgressSink.
func (m Multi) Emit(ctx context.Context, ev protocol.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

// Emit implements engine.ProgressSink.
func (r *Recorder) Emit(_ context.Context, ev protocol.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []protocol.EventType {
	events := r.Events()
	out := make([]protocol.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.GetType()
	}
	return out
}
