package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// countingSandbox wraps a sandbox and counts every operation.
type countingSandbox struct {
	sandbox.Sandbox
	opens atomic.Int32
	execs atomic.Int32
}

func (c *countingSandbox) Open(ctx context.Context, path string, mode sandbox.OpenMode) (sandbox.File, error) {
	c.opens.Add(1)
	return c.Sandbox.Open(ctx, path, mode)
}

func (c *countingSandbox) Exec(ctx context.Context, req sandbox.ExecRequest) (sandbox.Result, error) {
	c.execs.Add(1)
	return c.Sandbox.Exec(ctx, req)
}

func newTestSandbox(t *testing.T) (*countingSandbox, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.NewHostSandbox("test", root, sandbox.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return &countingSandbox{Sandbox: sb}, root
}

func newTestExecutor(verify string) *Executor {
	cfg := DefaultConfig()
	cfg.VerifyCommand = verify
	return NewExecutor(cfg)
}

func call(a engine.Action) engine.ToolCall {
	return engine.ToolCall{ID: "call_1", Action: a}
}

func TestExecute_EveryActionKindIsDispatched(t *testing.T) {
	samples := map[engine.ActionKind]engine.Action{
		engine.KindListFiles:    engine.ListFiles{DirectoryPath: "."},
		engine.KindReadFile:     engine.ReadFile{FilePath: "a.txt"},
		engine.KindReadFiles:    engine.ReadFiles{Tools: []engine.Action{engine.ReadFile{FilePath: "a.txt"}}},
		engine.KindWriteFile:    engine.WriteFile{FilePath: "b.txt", Content: "b"},
		engine.KindEditFile:     engine.EditFile{FilePath: "a.txt", OldString: "a", NewString: "c"},
		engine.KindBash:         engine.Bash{Command: "true"},
		engine.KindTodoWrite:    engine.TodoWrite{Todos: []protocol.TodoItem{{Content: "x", Status: protocol.TodoInProgress}}},
		engine.KindVerifyServer: engine.VerifyServer{},
		engine.KindReplyToUser:  engine.ReplyToUser{Message: "done"},
	}
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	ex := newTestExecutor("")

	for _, kind := range engine.ActionKinds() {
		t.Run(string(kind), func(t *testing.T) {
			action, ok := samples[kind]
			if !ok {
				t.Fatalf("no sample for %s", kind)
			}
			res := ex.Execute(context.Background(), sb, call(action), "", nil)
			if strings.Contains(res.Text, "unsupported tool") {
				t.Errorf("%s is not dispatched: %s", kind, res.Text)
			}
		})
	}
}

func TestExecute_WriteFileReportsFileAndVerification(t *testing.T) {
	sb, root := newTestSandbox(t)
	ex := newTestExecutor("echo checked")
	const content = "export default function Login() { return null }"

	res := ex.Execute(context.Background(), sb, call(engine.WriteFile{FilePath: "app/login.tsx", Content: content}), "", nil)

	if res.File == nil || res.File.Path != "app/login.tsx" || res.File.Content != content {
		t.Fatalf("File = %+v", res.File)
	}
	if !strings.Contains(res.Text, "Wrote app/login.tsx") || !strings.Contains(res.Text, "Verification (echo checked) passed") {
		t.Errorf("Text = %q", res.Text)
	}
	data, err := os.ReadFile(filepath.Join(root, "app/login.tsx"))
	if err != nil || string(data) != content {
		t.Errorf("file on disk = %q, %v", data, err)
	}
}

func TestExecute_VerificationFailureDoesNotFailWrite(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ex := newTestExecutor("echo 'bad format' && exit 3")

	res := ex.Execute(context.Background(), sb, call(engine.WriteFile{FilePath: "a.ts", Content: "x"}), "", nil)

	if res.File == nil {
		t.Fatal("write should succeed even when verification fails")
	}
	if !strings.Contains(res.Text, "reported issues (exit code 3)") || !strings.Contains(res.Text, "bad format") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestExecute_EditFileReportsNewContent(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(root, "index.tsx"), []byte("<Text>Hello</Text>"), 0644); err != nil {
		t.Fatal(err)
	}
	ex := newTestExecutor("")

	res := ex.Execute(context.Background(), sb, call(engine.EditFile{FilePath: "index.tsx", OldString: "Hello", NewString: "Hi"}), "", nil)

	if res.File == nil || res.File.Content != "<Text>Hi</Text>" {
		t.Errorf("File = %+v, text = %q", res.File, res.Text)
	}
}

func TestExecute_EmptyReadFilesDoesNoIO(t *testing.T) {
	sb, _ := newTestSandbox(t)
	ex := newTestExecutor("echo should-not-run")

	res := ex.Execute(context.Background(), sb, call(engine.ReadFiles{}), "", nil)

	if !strings.HasPrefix(res.Text, "Error:") {
		t.Errorf("Text = %q, want an error result", res.Text)
	}
	if sb.opens.Load() != 0 || sb.execs.Load() != 0 {
		t.Errorf("sandbox touched: %d opens, %d execs", sb.opens.Load(), sb.execs.Load())
	}
}

func TestExecute_ReadFilesPreservesOrder(t *testing.T) {
	sb, root := newTestSandbox(t)
	for name, content := range map[string]string{"a.txt": "AAA", "b.txt": "BBB"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	ex := newTestExecutor("")

	res := ex.Execute(context.Background(), sb, call(engine.ReadFiles{Tools: []engine.Action{
		engine.ReadFile{FilePath: "b.txt"},
		engine.ListFiles{},
		engine.ReadFile{FilePath: "missing.txt"},
		engine.ReadFile{FilePath: "a.txt"},
	}}), "", nil)

	order := []string{"[0] read_file b.txt", "BBB", "[1] list_files .", "[file] a.txt", "[2] read_file missing.txt", "does not exist", "[3] read_file a.txt", "AAA"}
	last := -1
	for _, want := range order {
		i := strings.Index(res.Text, want)
		if i < 0 {
			t.Fatalf("result missing %q:\n%s", want, res.Text)
		}
		if i < last {
			t.Errorf("%q out of order:\n%s", want, res.Text)
		}
		last = i
	}
}

func TestExecute_TodoWrite(t *testing.T) {
	ex := newTestExecutor("")
	current := []protocol.TodoItem{{Content: "old", Status: protocol.TodoInProgress}}

	t.Run("warning but replaced", func(t *testing.T) {
		todos := []protocol.TodoItem{
			{Content: "a", Status: protocol.TodoInProgress},
			{Content: "b", Status: protocol.TodoInProgress},
			{Content: "c", Status: protocol.TodoPending},
		}
		// Todo updates need no sandbox.
		res := ex.Execute(context.Background(), nil, call(engine.TodoWrite{Todos: todos}), "", current)
		if !res.TodosUpdated || len(res.Todos) != 3 {
			t.Fatalf("result = %+v", res)
		}
		if !strings.Contains(res.Text, "Warning:") {
			t.Errorf("Text = %q, want a warning", res.Text)
		}
	})

	t.Run("invalid keeps current list", func(t *testing.T) {
		res := ex.Execute(context.Background(), nil, call(engine.TodoWrite{Todos: []protocol.TodoItem{{Content: "a", Status: "blocked"}}}), "", current)
		if res.TodosUpdated {
			t.Error("invalid todo list must not be applied")
		}
		if !strings.HasPrefix(res.Text, "Error:") {
			t.Errorf("Text = %q", res.Text)
		}
	})
}

func TestExecute_NoSandbox(t *testing.T) {
	ex := newTestExecutor("")
	res := ex.Execute(context.Background(), nil, call(engine.ReadFile{FilePath: "a"}), "", nil)
	if !strings.Contains(res.Text, "no sandbox") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestExecute_BashRunsInWorkingDir(t *testing.T) {
	sb, root := newTestSandbox(t)
	if err := os.MkdirAll(filepath.Join(root, "workspace"), 0755); err != nil {
		t.Fatal(err)
	}
	ex := newTestExecutor("")

	res := ex.Execute(context.Background(), sb, call(engine.Bash{Command: "pwd && exit 4"}), "/workspace", nil)

	if !strings.Contains(res.Text, filepath.Join(root, "workspace")) || !strings.Contains(res.Text, "[exit code: 4]") {
		t.Errorf("Text = %q", res.Text)
	}
}
