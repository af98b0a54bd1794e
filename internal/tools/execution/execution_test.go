package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// MockSandbox is a mock implementation of sandbox.Sandbox that only executes.
type MockSandbox struct {
	ExecFunc func(ctx context.Context, req sandbox.ExecRequest) (sandbox.Result, error)
	Requests []sandbox.ExecRequest
}

func (m *MockSandbox) ID() string { return "mock" }

func (m *MockSandbox) Open(context.Context, string, sandbox.OpenMode) (sandbox.File, error) {
	return nil, os.ErrNotExist
}

func (m *MockSandbox) Exec(ctx context.Context, req sandbox.ExecRequest) (sandbox.Result, error) {
	m.Requests = append(m.Requests, req)
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, req)
	}
	return sandbox.Result{}, nil
}

func TestBash(t *testing.T) {
	tests := []struct {
		name        string
		command     string
		timeout     int
		mockResult  sandbox.Result
		mockErr     error
		wantTimeout time.Duration
		want        []string
	}{
		{
			name:        "success",
			command:     "npm ls",
			mockResult:  sandbox.Result{Stdout: "app@1.0.0\n"},
			wantTimeout: 120 * time.Second,
			want:        []string{"$ npm ls", "app@1.0.0", "[exit code: 0]"},
		},
		{
			name:        "failure with stderr",
			command:     "npm test",
			timeout:     30,
			mockResult:  sandbox.Result{Stderr: "1 failing", Code: 1},
			wantTimeout: 30 * time.Second,
			want:        []string{"1 failing", "[exit code: 1]"},
		},
		{
			name:        "timeout capped",
			command:     "npm start",
			timeout:     3600,
			mockResult:  sandbox.Result{Code: 1, TimedOut: true},
			wantTimeout: 600 * time.Second,
			want:        []string{"(no output)", "timed out after 10m0s"},
		},
		{
			name:        "exec error",
			command:     "ls",
			mockErr:     errors.New("container not running"),
			wantTimeout: 120 * time.Second,
			want:        []string{"Error running command: container not running"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &MockSandbox{
				ExecFunc: func(context.Context, sandbox.ExecRequest) (sandbox.Result, error) {
					return tt.mockResult, tt.mockErr
				},
			}
			got := Bash(context.Background(), sb, "/workspace", tt.command, tt.timeout)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("Bash() = %q, want it to contain %q", got, want)
				}
			}
			if len(sb.Requests) != 1 {
				t.Fatalf("exec called %d times", len(sb.Requests))
			}
			req := sb.Requests[0]
			if req.Timeout != tt.wantTimeout || req.Dir != "/workspace" {
				t.Errorf("request = %+v", req)
			}
			if strings.Join(req.Command, " ") != "sh -lc "+tt.command {
				t.Errorf("command = %v", req.Command)
			}
		})
	}
}

func TestBash_EmptyCommand(t *testing.T) {
	sb := &MockSandbox{}
	if got := Bash(context.Background(), sb, "", "  ", 0); !strings.HasPrefix(got, "Error:") {
		t.Errorf("Bash() = %q", got)
	}
	if len(sb.Requests) != 0 {
		t.Error("empty command must not reach the sandbox")
	}
}

func TestBash_OutputTruncated(t *testing.T) {
	long := strings.Repeat("x", 20_000) + "ERROR at the end"
	sb := &MockSandbox{
		ExecFunc: func(context.Context, sandbox.ExecRequest) (sandbox.Result, error) {
			return sandbox.Result{Stdout: long, Code: 2}, nil
		},
	}
	got := Bash(context.Background(), sb, "", "build", 0)
	if len(got) > maxBashOutput+200 {
		t.Errorf("result is %d bytes", len(got))
	}
	for _, want := range []string{"ERROR at the end", "bytes omitted", "[output truncated", "[exit code: 2]"} {
		if !strings.Contains(got, want) {
			t.Errorf("Bash() missing %q", want)
		}
	}
}

func TestTruncateOutput(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		max       int
		truncated bool
	}{
		{name: "short", input: "hello", max: 10},
		{name: "exact", input: "0123456789", max: 10},
		{name: "long", input: strings.Repeat("a", 500), max: 100, truncated: true},
		{name: "multibyte", input: strings.Repeat("é", 300), max: 101, truncated: true},
		{name: "tiny budget", input: strings.Repeat("é", 50), max: 7, truncated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := truncateOutput(tt.input, tt.max)
			if truncated != tt.truncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.truncated)
			}
			if len(got) > tt.max {
				t.Errorf("len = %d, want <= %d", len(got), tt.max)
			}
			if !utf8.ValidString(got) {
				t.Errorf("output is not valid UTF-8: %q", got)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		command string
		result  sandbox.Result
		err     error
		want    string
	}{
		{name: "disabled", command: "", want: ""},
		{name: "passes", command: "npx prettier --check .", result: sandbox.Result{Stdout: "All matched files use Prettier code style!"}, want: "passed"},
		{name: "issues", command: "npx prettier --check .", result: sandbox.Result{Stdout: "[warn] app/login.tsx", Code: 1}, want: "reported issues (exit code 1)"},
		{name: "exec error", command: "npx tsc", err: errors.New("boom"), want: "Verification skipped: boom"},
		{name: "timeout", command: "npx tsc", result: sandbox.Result{TimedOut: true, Code: 1}, want: "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &MockSandbox{
				ExecFunc: func(context.Context, sandbox.ExecRequest) (sandbox.Result, error) {
					return tt.result, tt.err
				},
			}
			got := Verify(context.Background(), sb, "/workspace", tt.command, time.Minute)
			if tt.want == "" {
				if got != "" || len(sb.Requests) != 0 {
					t.Errorf("Verify() = %q with %d execs, want nothing", got, len(sb.Requests))
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Verify() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestTailLog(t *testing.T) {
	root := t.TempDir()
	sb, err := sandbox.NewHostSandbox("test", root, sandbox.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(root, "expo.log")
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line "+strings.Repeat("#", i%3))
	}
	lines = append(lines, "Web Bundled 812ms")
	if err := os.WriteFile(logPath, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := TailLog(context.Background(), sb, logPath, 3)
	if n := strings.Count(got, "\n"); n != 3 {
		t.Errorf("got %d lines: %q", n, got)
	}
	if !strings.HasSuffix(got, "Web Bundled 812ms\n") {
		t.Errorf("TailLog() = %q", got)
	}

	if got := TailLog(context.Background(), sb, filepath.Join(root, "missing.log"), 0); !strings.HasPrefix(got, "Error reading server log") {
		t.Errorf("TailLog() missing = %q", got)
	}
}

func TestTailLines(t *testing.T) {
	for in, want := range map[int]int{0: 50, -3: 50, 20: 20, 500: 500, 10_000: 500} {
		if got := TailLines(in); got != want {
			t.Errorf("TailLines(%d) = %d, want %d", in, got, want)
		}
	}
}
