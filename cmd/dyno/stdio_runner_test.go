package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
	"github.com/ChamsBouzaiene/dyno/internal/session"
	"github.com/ChamsBouzaiene/dyno/internal/tools"
)

type agentMap map[string]*engine.Agent

func (m agentMap) Agent(variant string) (*engine.Agent, error) {
	a, ok := m[variant]
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", variant)
	}
	return a, nil
}

func newTestRunner(t *testing.T, in io.Reader, out io.Writer, planner engine.Planner) *stdioRunner {
	t.Helper()
	ctx := context.Background()
	cfg := tools.DefaultConfig()
	cfg.VerifyCommand = ""

	agents := agentMap{}
	for _, v := range []engine.Variant{engine.BuildVariant(), engine.AskVariant()} {
		a, err := engine.NewAgentBuilder().
			WithVariant(v).
			WithPlanner(planner).
			WithToolExecutor(tools.NewExecutor(cfg)).
			WithStateStore(session.NewMemoryStore()).
			WithRetryPolicy(engine.RetryPolicy{}).
			Build(ctx)
		if err != nil {
			t.Fatal(err)
		}
		agents[v.Name] = a
	}

	sbCfg := sandbox.DefaultConfig()
	sbCfg.Mode = sandbox.ModeHost
	sbCfg.HostRoot = t.TempDir()
	manager, err := sandbox.NewManager(ctx, sbCfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { manager.Close() })
	return newStdioRunner(in, out, agents, manager)
}

func eventTypes(t *testing.T, out string) []protocol.EventType {
	t.Helper()
	var types []protocol.EventType
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		ev, err := protocol.DecodeEvent([]byte(line))
		if err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		types = append(types, ev.GetType())
	}
	return types
}

func TestStdioRunner_Run(t *testing.T) {
	planner := engine.PlannerFunc(func(_ context.Context, req engine.PlanRequest) (engine.PlanResponse, error) {
		if len(req.History) == 1 {
			return engine.PlanResponse{Call: engine.ToolCall{ID: "c1", Action: engine.WriteFile{FilePath: "App.tsx", Content: "x"}}}, nil
		}
		return engine.PlanResponse{Call: engine.ToolCall{ID: "c2", Action: engine.ReplyToUser{Message: "done"}}}, nil
	})
	in := strings.NewReader(`{"type":"run","project_id":"p1","prompt":"make an app"}` + "\n")
	var out bytes.Buffer

	if err := newTestRunner(t, in, &out, planner).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	types := eventTypes(t, out.String())
	if types[0] != protocol.EventStatus || types[len(types)-1] != protocol.EventComplete {
		t.Errorf("events = %v", types)
	}
	if !strings.Contains(out.String(), `"App.tsx":"x"`) {
		t.Errorf("complete event lacks files: %s", out.String())
	}
}

func TestStdioRunner_InvalidCommands(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`not json`,
		`{"type":"run","project_id":"p1"}`,
		`{"type":"cancel","project_id":"p1"}`,
		`{"type":"run","project_id":"p1","prompt":"x","variant":"deploy"}`,
	}, "\n"))
	var out bytes.Buffer
	planner := engine.PlannerFunc(func(context.Context, engine.PlanRequest) (engine.PlanResponse, error) {
		t.Error("planner must not be called")
		return engine.PlanResponse{}, nil
	})

	if err := newTestRunner(t, in, &out, planner).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	types := eventTypes(t, out.String())
	want := []protocol.EventType{protocol.EventStatus, protocol.EventError, protocol.EventError, protocol.EventError, protocol.EventError}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestStdioRunner_Cancel(t *testing.T) {
	started := make(chan struct{}, 1)
	planner := engine.PlannerFunc(func(ctx context.Context, _ engine.PlanRequest) (engine.PlanResponse, error) {
		started <- struct{}{}
		<-ctx.Done()
		return engine.PlanResponse{}, &engine.CancelledError{Err: ctx.Err()}
	})
	pr, pw := io.Pipe()
	var out syncBuffer
	runner := newTestRunner(t, pr, &out, planner)

	done := make(chan error, 1)
	go func() { done <- runner.Run(context.Background()) }()

	fmt.Fprintln(pw, `{"type":"run","project_id":"p1","prompt":"long task"}`)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("planner never called")
	}
	fmt.Fprintln(pw, `{"type":"cancel","project_id":"p1"}`)
	pw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	types := eventTypes(t, out.String())
	if types[len(types)-1] != protocol.EventStopped {
		t.Errorf("events = %v", types)
	}
}

func TestCreditsCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dyno.yaml")
	yaml := fmt.Sprintf("database:\n  path: %s\nsession:\n  backend: memory\nbilling:\n  initial_grant: 100\n", filepath.Join(dir, "dyno.db"))
	if err := os.WriteFile(cfgPath, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) string {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})

	if got := run("credits", "balance", "u1"); !strings.Contains(got, "u1: 100.00 credits") {
		t.Errorf("balance = %q", got)
	}
	if got := run("credits", "grant", "u1", "5"); !strings.Contains(got, "balance 105.00") {
		t.Errorf("grant = %q", got)
	}
	if got := run("credits", "balance", "u1"); !strings.Contains(got, "u1: 105.00 credits") {
		t.Errorf("balance after grant = %q", got)
	}
}

func TestProtocolCommandJSON(t *testing.T) {
	raw, _ := json.Marshal(protocol.RunCommand{Type: protocol.CommandRun, ProjectID: "p1", Prompt: "x"})
	cmd, err := protocol.DecodeCommand(raw)
	if err != nil {
		t.Fatal(err)
	}
	if run, ok := cmd.(protocol.RunCommand); !ok || run.Variant != engine.VariantBuild {
		t.Errorf("DecodeCommand() = %#v", cmd)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
