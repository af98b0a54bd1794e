//go:build !windows

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestSandbox(t *testing.T) *HostSandbox {
	t.Helper()
	sb, err := NewHostSandbox("test", t.TempDir(), Config{})
	if err != nil {
		t.Fatalf("NewHostSandbox: %v", err)
	}
	return sb
}

func TestHostSandbox_WriteThenRead(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	if err := WriteFile(ctx, sb, "app/index.tsx", []byte("hello")); err == nil {
		t.Fatalf("expected error writing into a missing directory")
	}
	if err := os.MkdirAll(filepath.Join(sb.Root(), "app"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(ctx, sb, "/app/index.tsx", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(ctx, sb, "app/index.tsx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestHostSandbox_RejectsEscape(t *testing.T) {
	sb := newTestSandbox(t)
	if _, err := sb.Open(context.Background(), "../../etc/passwd", OpenRead); err == nil {
		t.Fatal("expected error for path outside the sandbox")
	}
}

func TestHostSandbox_WrongMode(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()
	f, err := sb.Open(ctx, "a.txt", OpenWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Read on write handle: got %v, want ErrWrongMode", err)
	}
}

func TestHostSandbox_Exec(t *testing.T) {
	sb := newTestSandbox(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		command  string
		wantCode int
		wantOut  string
	}{
		{name: "success", command: "echo hi", wantCode: 0, wantOut: "hi"},
		{name: "non-zero exit", command: "echo oops >&2; exit 3", wantCode: 3, wantOut: "oops"},
		{name: "runs in root", command: "pwd", wantCode: 0, wantOut: sb.Root()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := sb.Exec(ctx, Shell(tt.command, "", 0))
			if err != nil {
				t.Fatalf("Exec: %v", err)
			}
			if res.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", res.Code, tt.wantCode)
			}
			if !strings.Contains(res.Combined(), tt.wantOut) {
				t.Errorf("output %q does not contain %q", res.Combined(), tt.wantOut)
			}
		})
	}
}

func TestHostSandbox_ExecTimeout(t *testing.T) {
	sb := newTestSandbox(t)
	start := time.Now()
	res, err := sb.Exec(context.Background(), Shell("sleep 5", "", 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestHostSandbox_ExecCancelLeavesCommandRunning(t *testing.T) {
	sb := newTestSandbox(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := sb.Exec(ctx, Shell("sleep 1; touch done", "", 10*time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Exec error = %v, want context.Canceled", err)
	}
	if res.TimedOut {
		t.Error("cancelled exec reported TimedOut")
	}

	marker := filepath.Join(sb.Root(), "done")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("command was killed by cancellation, marker never written")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestHostSandbox_EmptyCommand(t *testing.T) {
	sb := newTestSandbox(t)
	if _, err := sb.Exec(context.Background(), ExecRequest{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestManager_HostLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.HostRoot = t.TempDir()
	m := &Manager{config: cfg.withDefaults(), mode: ModeHost, handles: map[string]Sandbox{}}

	info, err := m.Create(ctx, "proj-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Mode != ModeHost || info.ProjectID != "proj-1" {
		t.Errorf("unexpected info: %+v", info)
	}

	// A fresh manager finds the sandbox on disk.
	m2 := &Manager{config: m.config, mode: ModeHost, handles: map[string]Sandbox{}}
	sb, err := m2.Get(ctx, info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sb.ID() != info.ID {
		t.Errorf("ID = %q, want %q", sb.ID(), info.ID)
	}

	if err := m2.Terminate(ctx, info.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := m2.Get(ctx, info.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Terminate: got %v, want ErrNotFound", err)
	}
}
