package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

const (
	defaultMaxTokens   = 8192
	defaultTemperature = float32(0.1)
	titleMaxTokens     = 32
)

const titlePrompt = "Write a title of at most six words for a conversation that starts with the user's message below. " +
	"Answer with the title only, no quotes or punctuation at the end."

// Client is a planner that can also title conversations.
type Client interface {
	engine.Planner
	engine.Titler
	Model() string
}

// systemText returns the system prompt with the current todo list appended.
func systemText(req engine.PlanRequest) string {
	if req.Todos == nil {
		return req.SystemPrompt
	}
	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	b.WriteString("\n\n## Current todo list\n")
	if len(req.Todos) == 0 {
		b.WriteString("(empty; use todo_write to plan multi-step work)\n")
		return b.String()
	}
	for _, t := range req.Todos {
		fmt.Fprintf(&b, "- [%s] %s\n", t.Status, t.Content)
	}
	if cur := protocol.CurrentTodo(req.Todos); cur != "" {
		fmt.Fprintf(&b, "Currently: %s\n", cur)
	}
	return b.String()
}

func allowedKinds(req engine.PlanRequest) []engine.ActionKind {
	if req.Allowed == nil {
		return engine.ActionKinds()
	}
	return req.Allowed
}

// toolArgs renders a stored call's arguments for replay to a provider.
func toolArgs(call *engine.ToolCall) json.RawMessage {
	if call == nil || call.Action == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(call.Action)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// nonEmpty avoids empty tool result content, which providers reject.
func nonEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

// decodeCall validates one provider tool call into an engine call.
func decodeCall(id, name string, args json.RawMessage, req engine.PlanRequest) (engine.ToolCall, error) {
	action, err := engine.DecodeAction(name, args, allowedKinds(req))
	if err != nil {
		return engine.ToolCall{}, err
	}
	return engine.ToolCall{ID: id, Action: action}, nil
}

// wrapError classifies a provider error. Cancellation of ctx wins over
// whatever the SDK reported.
func wrapError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return &engine.CancelledError{Err: err}
	}
	httpStatus, retryAfter := extractErrorMetadata(err)
	return engine.WrapLLMError(err, httpStatus, retryAfter)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'`*# ")
	s = strings.TrimRight(s, ".")
	if r := []rune(s); len(r) > 80 {
		s = string(r[:80])
	}
	return s
}
