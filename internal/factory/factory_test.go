package factory

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/config"
	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		LLM:   config.LLMConfig{Provider: "anthropic"},
		Agent: config.AgentConfig{BuildMaxIterations: 5, AskMaxIterations: 2, WorkingDir: ""},
		Sandbox: config.SandboxConfig{
			Mode:     "host",
			HostRoot: filepath.Join(dir, "sandboxes"),
		},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "dyno.db")},
		Session:  config.SessionConfig{Backend: "sqlite"},
		Billing: config.BillingConfig{
			Enabled:          true,
			MarginPercent:    20,
			CreditsPerDollar: 100,
			InitialGrant:     10,
		},
	}
}

// loginPlanner writes one file and then replies.
func loginPlanner(calls *atomic.Int32) engine.Planner {
	return engine.PlannerFunc(func(ctx context.Context, req engine.PlanRequest) (engine.PlanResponse, error) {
		n := calls.Add(1)
		resp := engine.PlanResponse{
			Model: "claude-sonnet-4-5",
			Usage: engine.Usage{InputTokens: 100_000, OutputTokens: 10_000},
		}
		if n == 1 {
			resp.Call = engine.ToolCall{ID: "call_1", Action: engine.WriteFile{FilePath: "app/login.tsx", Content: "export default 1"}}
		} else {
			resp.Call = engine.ToolCall{ID: "call_2", Action: engine.ReplyToUser{Message: "Added a login screen."}}
		}
		return resp, nil
	})
}

func TestNew_EndToEnd(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	app, err := New(ctx, testConfig(t), WithPlanner(loginPlanner(&calls)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { app.Close() })

	if app.DB == nil || app.Ledger == nil || app.Usage == nil {
		t.Fatalf("billing not wired: %+v", app)
	}

	info, err := app.Sandboxes.Create(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	sb, err := app.Sandboxes.Get(ctx, info.ID)
	if err != nil {
		t.Fatal(err)
	}

	agent, err := app.Agent("build")
	if err != nil {
		t.Fatal(err)
	}
	res := agent.Run(ctx, engine.Invocation{ProjectID: "proj-1", UserID: "user-1", Prompt: "add a login screen", Sandbox: sb})
	if res.Outcome != engine.OutcomeCompleted {
		t.Fatalf("Outcome = %s, err = %v", res.Outcome, res.Err)
	}
	if res.Files["app/login.tsx"] != "export default 1" {
		t.Errorf("Files = %v", res.Files)
	}

	history, err := app.Sessions.Get(ctx, "proj-1")
	if err != nil || len(history) == 0 {
		t.Errorf("history not persisted: %d messages, %v", len(history), err)
	}

	// 2 calls * (0.1M * $3 + 0.01M * $15) = $0.90, +20% = $1.08 = 108 credits.
	balance, err := app.Ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if want := 10 - 108.0; balance < want-0.001 || balance > want+0.001 {
		t.Errorf("Balance() = %v, want %v", balance, want)
	}

	usage, cost, err := app.Usage.InvocationUsage(ctx, res.InvocationID)
	if err != nil {
		t.Fatal(err)
	}
	if usage.InputTokens != 200_000 || cost < 0.899 || cost > 0.901 {
		t.Errorf("InvocationUsage() = %+v, %v", usage, cost)
	}
}

func TestNew_AgentVariants(t *testing.T) {
	cfg := testConfig(t)
	cfg.Billing.Enabled = false
	cfg.Session.Backend = "memory"

	app, err := New(context.Background(), cfg, WithPlanner(loginPlanner(new(atomic.Int32))))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { app.Close() })

	if app.DB != nil || app.Ledger != nil {
		t.Error("database opened although nothing needs it")
	}

	tests := []struct {
		variant string
		max     int
		wantErr bool
	}{
		{variant: "", max: 5},
		{variant: "build", max: 5},
		{variant: "ask", max: 2},
		{variant: "deploy", wantErr: true},
	}
	for _, tt := range tests {
		agent, err := app.Agent(tt.variant)
		if (err != nil) != tt.wantErr {
			t.Errorf("Agent(%q) error = %v", tt.variant, err)
			continue
		}
		if err == nil && agent.Variant().MaxIterations != tt.max {
			t.Errorf("Agent(%q).MaxIterations = %d, want %d", tt.variant, agent.Variant().MaxIterations, tt.max)
		}
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := testConfig(t)
	cfg.LLM.Provider = "openai"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("New() without an API key should fail")
	}
}

func TestConversions(t *testing.T) {
	sb := SandboxConfig(config.SandboxConfig{Mode: "DOCKER", Memory: "2g"})
	if sb.Mode != "docker" || sb.Memory != "2g" || sb.CPU != "2" {
		t.Errorf("SandboxConfig() = %+v", sb)
	}

	tc := ToolsConfig(config.SandboxConfig{VerifyTimeout: 5 * time.Second})
	if tc.VerifyCommand != "" || tc.VerifyTimeout != 5*time.Second || tc.ServerLogPath == "" {
		t.Errorf("ToolsConfig() = %+v", tc)
	}

	rp := RetryPolicy(config.AgentConfig{RetryAttempts: 0})
	if rp.MaxRetries != 0 || rp.InitialDelay != time.Second {
		t.Errorf("RetryPolicy() = %+v", rp)
	}
}
