package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
	"github.com/ChamsBouzaiene/dyno/internal/tools/editing"
	"github.com/ChamsBouzaiene/dyno/internal/tools/execution"
	"github.com/ChamsBouzaiene/dyno/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/dyno/internal/tools/planning"
)

// Executor maps planner actions onto sandbox operations. Every failure becomes
// result text the planner sees on its next turn; Execute never returns an error.
type Executor struct {
	config  Config
	matcher *gitignore.GitIgnore
}

var _ engine.ToolExecutor = (*Executor)(nil)

// NewExecutor creates an executor. Zero fields in config fall back to the
// defaults, except VerifyCommand which may be empty to disable verification.
func NewExecutor(config Config) *Executor {
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = defaultVerifyTimeout
	}
	if config.ServerLogPath == "" {
		config.ServerLogPath = defaultServerLogPath
	}
	return &Executor{
		config:  config,
		matcher: filesystem.NewMatcher(config.IgnorePatterns),
	}
}

// Execute implements engine.ToolExecutor.
func (e *Executor) Execute(ctx context.Context, sb sandbox.Sandbox, call engine.ToolCall, workingDir string, todos []protocol.TodoItem) (result engine.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name(), "panic", r, "stack", string(debug.Stack()))
			result = engine.ToolResult{Text: fmt.Sprintf("Error: %s failed unexpectedly", call.Name())}
		}
	}()

	if call.Action == nil {
		return engine.ToolResult{Text: "Error: empty tool call"}
	}
	if sb == nil {
		if _, ok := call.Action.(engine.TodoWrite); !ok {
			return engine.ToolResult{Text: "Error: no sandbox is attached to this project"}
		}
	}

	switch a := call.Action.(type) {
	case engine.ListFiles:
		return engine.ToolResult{Text: filesystem.List(ctx, sb, workingDir, a.DirectoryPath, e.matcher)}
	case engine.ReadFile:
		return engine.ToolResult{Text: filesystem.Read(ctx, sb, workingDir, a.FilePath)}
	case engine.ReadFiles:
		return engine.ToolResult{Text: e.readFiles(ctx, sb, workingDir, a)}
	case engine.WriteFile:
		return e.writeFile(ctx, sb, workingDir, a)
	case engine.EditFile:
		return e.editFile(ctx, sb, workingDir, a)
	case engine.Bash:
		return engine.ToolResult{Text: execution.Bash(ctx, sb, workingDir, a.Command, a.Timeout)}
	case engine.TodoWrite:
		text, updated, ok := planning.Write(a.Todos)
		if !ok {
			return engine.ToolResult{Text: text, Todos: todos}
		}
		return engine.ToolResult{Text: text, Todos: updated, TodosUpdated: true}
	case engine.VerifyServer:
		return engine.ToolResult{Text: execution.TailLog(ctx, sb, e.config.ServerLogPath, a.TailLines)}
	case engine.ReplyToUser:
		// The loop ends the run on a reply before dispatching.
		return engine.ToolResult{Text: a.Message}
	default:
		return engine.ToolResult{Text: fmt.Sprintf("Error: unsupported tool %q", call.Name())}
	}
}

func (e *Executor) writeFile(ctx context.Context, sb sandbox.Sandbox, workingDir string, a engine.WriteFile) engine.ToolResult {
	text, _, ok := filesystem.Write(ctx, sb, workingDir, a.FilePath, a.Content)
	if !ok {
		return engine.ToolResult{Text: text}
	}
	return engine.ToolResult{
		Text: e.withVerification(ctx, sb, workingDir, text),
		File: &engine.WrittenFile{Path: a.FilePath, Content: a.Content},
	}
}

func (e *Executor) editFile(ctx context.Context, sb sandbox.Sandbox, workingDir string, a engine.EditFile) engine.ToolResult {
	text, content, ok := editing.Edit(ctx, sb, workingDir, a.FilePath, a.OldString, a.NewString, a.ReplaceAll)
	if !ok {
		return engine.ToolResult{Text: text}
	}
	return engine.ToolResult{
		Text: e.withVerification(ctx, sb, workingDir, text),
		File: &engine.WrittenFile{Path: a.FilePath, Content: content},
	}
}

func (e *Executor) withVerification(ctx context.Context, sb sandbox.Sandbox, workingDir, text string) string {
	if report := execution.Verify(ctx, sb, workingDir, e.config.VerifyCommand, e.config.VerifyTimeout); report != "" {
		return text + "\n\n" + report
	}
	return text
}
