package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// scriptedPlanner returns one scripted step per call; the last step repeats.
type scriptedPlanner struct {
	mu       sync.Mutex
	steps    []func(ctx context.Context, req PlanRequest) (PlanResponse, error)
	requests []PlanRequest
}

func (p *scriptedPlanner) Plan(ctx context.Context, req PlanRequest) (PlanResponse, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if len(p.steps) == 0 {
		return PlanResponse{}, errors.New("no scripted steps")
	}
	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i](ctx, req)
}

func (p *scriptedPlanner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func respond(a Action) func(context.Context, PlanRequest) (PlanResponse, error) {
	return func(context.Context, PlanRequest) (PlanResponse, error) {
		return PlanResponse{
			Call:  ToolCall{Action: a},
			Usage: Usage{InputTokens: 100, OutputTokens: 20},
			Model: "test-model",
		}, nil
	}
}

func failWith(err error) func(context.Context, PlanRequest) (PlanResponse, error) {
	return func(context.Context, PlanRequest) (PlanResponse, error) {
		return PlanResponse{Usage: Usage{InputTokens: 50}, Model: "test-model"}, err
	}
}

// MockToolExecutor records calls and delegates to Fn.
type MockToolExecutor struct {
	mu    sync.Mutex
	Calls []ToolCall
	Fn    func(ctx context.Context, call ToolCall, todos []protocol.TodoItem) ToolResult
}

func (m *MockToolExecutor) Execute(ctx context.Context, _ sandbox.Sandbox, call ToolCall, _ string, todos []protocol.TodoItem) ToolResult {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
	if m.Fn != nil {
		return m.Fn(ctx, call, todos)
	}
	if w, ok := call.Action.(WriteFile); ok {
		return ToolResult{Text: "wrote " + w.FilePath, File: &WrittenFile{Path: w.FilePath, Content: w.Content}}
	}
	return ToolResult{Text: "ok"}
}

// memStore is a minimal StateStore.
type memStore struct {
	mu     sync.Mutex
	data   map[string][]Message
	sets   int
	getErr error
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]Message)} }

func (s *memStore) Get(_ context.Context, id string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return append([]Message(nil), s.data[id]...), nil
}

func (s *memStore) Set(_ context.Context, id string, h []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[id] = append([]Message(nil), h...)
	return nil
}

// recordingSink keeps every event.
type recordingSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *recordingSink) Emit(_ context.Context, ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// types returns event types, skipping status events.
func (s *recordingSink) types() []protocol.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.EventType
	for _, ev := range s.events {
		if ev.GetType() != protocol.EventStatus {
			out = append(out, ev.GetType())
		}
	}
	return out
}

func (s *recordingSink) last() protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// countingMeter prices every token at 1e-6 USD.
type countingMeter struct {
	mu      sync.Mutex
	flushes int
	records []UsageRecord
}

func (m *countingMeter) Cost(_ context.Context, _ string, u Usage) float64 {
	return float64(u.InputTokens+u.OutputTokens) * 1e-6
}

func (m *countingMeter) Flush(_ context.Context, _, _ string, records []UsageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	m.records = append(m.records, records...)
}

type titlerFunc func(ctx context.Context, prompt string) (string, error)

func (f titlerFunc) Title(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// stubWait replaces the retry wait with one that records delays.
func stubWait(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := wait
	wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	t.Cleanup(func() { wait = orig })
	return &delays
}

type testRig struct {
	planner *scriptedPlanner
	tools   *MockToolExecutor
	store   *memStore
	meter   *countingMeter
	sink    *recordingSink
}

func newRig(steps ...func(context.Context, PlanRequest) (PlanResponse, error)) *testRig {
	return &testRig{
		planner: &scriptedPlanner{steps: steps},
		tools:   &MockToolExecutor{},
		store:   newMemStore(),
		meter:   &countingMeter{},
		sink:    &recordingSink{},
	}
}

func (r *testRig) build(t *testing.T, configure func(b *AgentBuilder)) *Agent {
	t.Helper()
	b := NewAgentBuilder().
		WithPlanner(r.planner).
		WithToolExecutor(r.tools).
		WithStateStore(r.store).
		WithMeter(r.meter).
		WithHooks(Hooks{NopHook{}})
	if configure != nil {
		configure(b)
	}
	a, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return a
}

func (r *testRig) invocation(prompt string) Invocation {
	return Invocation{ProjectID: "proj-1", UserID: "user-1", Prompt: prompt, WorkingDir: "/workspace", Sink: r.sink}
}
