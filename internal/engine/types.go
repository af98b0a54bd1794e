package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// MessageRole represents the role of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one turn of a conversation. Assistant messages carry either free
// text or a ToolCall; tool messages carry the result text of an earlier call.
type Message struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// Validate checks if the Message is well formed.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return fmt.Errorf("tool messages must have a ToolCallID")
	}
	if m.ToolCall != nil && m.Role != RoleAssistant {
		return fmt.Errorf("only assistant messages may carry a tool call")
	}
	return nil
}

// UserMessage builds a user turn.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantText builds a plain-text assistant turn.
func AssistantText(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// ToolCallMessage builds the assistant turn that requested call.
func ToolCallMessage(call ToolCall) Message {
	c := call
	return Message{Role: RoleAssistant, ToolCall: &c}
}

// ToolResultMessage builds the tool turn answering callID.
func ToolResultMessage(callID, text string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Content: text}
}

// ToolCall is one structured action requested by the planner.
type ToolCall struct {
	ID     string
	Action Action
}

// Name returns the action kind as the wire tool name.
func (c ToolCall) Name() string {
	if c.Action == nil {
		return ""
	}
	return string(c.Action.Kind())
}

type toolCallJSON struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// MarshalJSON stores a call provider-neutrally as {"id","name","args"}.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	if c.Action == nil {
		return nil, fmt.Errorf("tool call %s has no action", c.ID)
	}
	args, err := json.Marshal(c.Action)
	if err != nil {
		return nil, err
	}
	return json.Marshal(toolCallJSON{ID: c.ID, Name: c.Name(), Args: args})
}

// UnmarshalJSON restores a call written by MarshalJSON.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var raw toolCallJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	action, err := parseAction(ActionKind(raw.Name), raw.Args)
	if err != nil {
		return err
	}
	c.ID = raw.ID
	c.Action = action
	return nil
}

// Usage holds token accounting returned by providers. InputTokens excludes
// CachedInputTokens; providers that report an inclusive count subtract it.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:       u.InputTokens + o.InputTokens,
		OutputTokens:      u.OutputTokens + o.OutputTokens,
		CachedInputTokens: u.CachedInputTokens + o.CachedInputTokens,
	}
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool { return u == Usage{} }

// PlanRequest is everything the planner sees for one call.
type PlanRequest struct {
	Variant      string
	SystemPrompt string
	History      []Message
	WorkingDir   string
	Todos        []protocol.TodoItem // nil for variants without todos
	Allowed      []ActionKind
}

// PlanResponse is a normalized result of one planner call. Usage and Model are
// filled in whenever the provider reported them, even alongside an error.
type PlanResponse struct {
	Call  ToolCall
	Usage Usage
	Model string
}

// Planner abstracts the structured-output planning service.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (PlanResponse, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req PlanRequest) (PlanResponse, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (PlanResponse, error) {
	return f(ctx, req)
}

// WrittenFile is a file created or modified by a tool.
type WrittenFile struct {
	Path    string
	Content string
}

// ToolResult is what a tool hands back to the loop. Text is always set;
// failures are described in it rather than returned as errors.
type ToolResult struct {
	Text         string
	Todos        []protocol.TodoItem
	TodosUpdated bool
	File         *WrittenFile
}

// ToolExecutor performs one action against a sandbox.
type ToolExecutor interface {
	Execute(ctx context.Context, sb sandbox.Sandbox, call ToolCall, workingDir string, todos []protocol.TodoItem) ToolResult
}

// StateStore persists conversation history per project.
type StateStore interface {
	Get(ctx context.Context, projectID string) ([]Message, error)
	Set(ctx context.Context, projectID string, history []Message) error
}

// UsageRecord is the telemetry of one planner attempt.
type UsageRecord struct {
	InvocationID string        `json:"invocation_id"`
	ProjectID    string        `json:"project_id"`
	UserID       string        `json:"user_id"`
	Iteration    int           `json:"iteration"`
	Model        string        `json:"model"`
	Usage        Usage         `json:"usage"`
	Cost         float64       `json:"cost"`
	Duration     time.Duration `json:"duration"`
	Failed       bool          `json:"failed"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Meter prices planner usage and settles an invocation's records.
// Flush must not fail the run; implementations log their own errors.
type Meter interface {
	Cost(ctx context.Context, model string, usage Usage) float64
	Flush(ctx context.Context, userID, projectID string, records []UsageRecord)
}

// ProgressSink receives progress events in order.
type ProgressSink interface {
	Emit(ctx context.Context, ev protocol.Event) error
}

// Titler produces a short conversation title from the first prompt.
type Titler interface {
	Title(ctx context.Context, prompt string) (string, error)
}

// Invocation is one request to run the agent.
type Invocation struct {
	ID         string
	ProjectID  string
	UserID     string
	Prompt     string
	WorkingDir string
	Sandbox    sandbox.Sandbox
	Sink       ProgressSink
}

// Outcome is how an invocation ended.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeFailed          Outcome = "failed"
	OutcomeStopped         Outcome = "stopped"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
)

// Result summarises a finished invocation.
type Result struct {
	InvocationID string            `json:"invocation_id"`
	Outcome      Outcome           `json:"outcome"`
	Reply        string            `json:"reply,omitempty"`
	Files        map[string]string `json:"files,omitempty"`
	Iterations   int               `json:"iterations"`
	History      []Message         `json:"-"`
	Usage        Usage             `json:"usage"`
	Cost         float64           `json:"cost"`
	Err          error             `json:"-"`
}

// Success reports whether the agent replied to the user.
func (r Result) Success() bool { return r.Outcome == OutcomeCompleted }
