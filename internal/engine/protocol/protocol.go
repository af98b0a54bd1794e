package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CommandType enumerates all supported client -> engine commands on the NDJSON channel.
type CommandType string

const (
	CommandRun    CommandType = "run"
	CommandCancel CommandType = "cancel"
)

// Command is a marker interface implemented by all protocol commands.
type Command interface {
	GetType() CommandType
}

// RunCommand starts one agent invocation for a project.
type RunCommand struct {
	Type       CommandType `json:"type"`
	ProjectID  string      `json:"project_id"`
	UserID     string      `json:"user_id,omitempty"`
	Variant    string      `json:"variant,omitempty"` // "build" (default) or "ask"
	Prompt     string      `json:"prompt"`
	WorkingDir string      `json:"working_dir,omitempty"`
	SandboxID  string      `json:"sandbox_id,omitempty"`
}

// GetType implements Command.
func (c RunCommand) GetType() CommandType { return CommandRun }

// CancelCommand stops the running invocation of a project.
type CancelCommand struct {
	Type      CommandType `json:"type"`
	ProjectID string      `json:"project_id"`
}

// GetType implements Command.
func (c CancelCommand) GetType() CommandType { return CommandCancel }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts raw JSON into a strongly typed command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch base.Type {
	case CommandRun:
		var cmd RunCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		if cmd.ProjectID == "" {
			return nil, errors.New("run requires project_id")
		}
		if cmd.Prompt == "" {
			return nil, errors.New("run requires prompt")
		}
		if cmd.Variant == "" {
			cmd.Variant = "build"
		}
		if cmd.Variant != "build" && cmd.Variant != "ask" {
			return nil, fmt.Errorf("run: unknown variant %q", cmd.Variant)
		}
		return cmd, nil
	case CommandCancel:
		var cmd CancelCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return nil, fmt.Errorf("decode cancel: %w", err)
		}
		if cmd.ProjectID == "" {
			return nil, errors.New("cancel requires project_id")
		}
		return cmd, nil
	case "":
		return nil, errors.New("command missing type")
	default:
		return nil, fmt.Errorf("unknown command type %q", base.Type)
	}
}

// NewInvocationID generates a new opaque invocation identifier.
func NewInvocationID() string {
	return uuid.NewString()
}

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted:
		return true
	}
	return false
}

// TodoItem is one planning unit tracked by the build agent.
type TodoItem struct {
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm"`
	Status     TodoStatus `json:"status"`
}

// CurrentTodo returns the active form of the first in-progress item, or "".
func CurrentTodo(todos []TodoItem) string {
	for _, t := range todos {
		if t.Status == TodoInProgress {
			if t.ActiveForm != "" {
				return t.ActiveForm
			}
			return t.Content
		}
	}
	return ""
}

// EventType enumerates engine -> observer progress events.
type EventType string

const (
	EventStatus       EventType = "status"
	EventAgentStarted EventType = "agent_started"
	EventIteration    EventType = "iteration"
	EventTodoUpdate   EventType = "todo_update"
	EventTitleUpdated EventType = "title_updated"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
	EventStopped      EventType = "stopped"
)

// EventTypes lists every progress event type.
func EventTypes() []EventType {
	return []EventType{
		EventStatus, EventAgentStarted, EventIteration, EventTodoUpdate,
		EventTitleUpdated, EventComplete, EventError, EventStopped,
	}
}

// Terminal reports whether the event ends an invocation's stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError || t == EventStopped
}

// Event is implemented by every outgoing progress message.
type Event interface {
	isEvent()
	GetType() EventType
}

// MarshalEvent serializes an event into JSON for NDJSON/SSE/WebSocket transport.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

type eventBase struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"project_id,omitempty"`
}

func (eventBase) isEvent() {}

// StatusEvent communicates coarse loop state ("Thinking...", "Retrying...").
type StatusEvent struct {
	eventBase
	Message string `json:"message"`
}

// NewStatusEvent constructs a status event.
func NewStatusEvent(projectID, message string) StatusEvent {
	return StatusEvent{eventBase: eventBase{Type: EventStatus, ProjectID: projectID}, Message: message}
}

// GetType implements Event.
func (e StatusEvent) GetType() EventType { return e.Type }

// AgentStartedEvent is the first event of every invocation.
type AgentStartedEvent struct {
	eventBase
	Message string `json:"message"`
}

// NewAgentStartedEvent constructs an agent_started event.
func NewAgentStartedEvent(projectID, message string) AgentStartedEvent {
	return AgentStartedEvent{eventBase: eventBase{Type: EventAgentStarted, ProjectID: projectID}, Message: message}
}

// GetType implements Event.
func (e AgentStartedEvent) GetType() EventType { return e.Type }

// IterationEvent announces the tool about to run.
type IterationEvent struct {
	eventBase
	Index       int    `json:"index"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CurrentTodo string `json:"currentTodo,omitempty"`
}

// NewIterationEvent constructs an iteration event.
func NewIterationEvent(projectID string, index int, tool, description, currentTodo string) IterationEvent {
	return IterationEvent{
		eventBase:   eventBase{Type: EventIteration, ProjectID: projectID},
		Index:       index,
		Tool:        tool,
		Description: description,
		CurrentTodo: currentTodo,
	}
}

// GetType implements Event.
func (e IterationEvent) GetType() EventType { return e.Type }

// TodoUpdateEvent carries the full replaced todo list.
type TodoUpdateEvent struct {
	eventBase
	Todos []TodoItem `json:"todos"`
}

// NewTodoUpdateEvent constructs a todo_update event.
func NewTodoUpdateEvent(projectID string, todos []TodoItem) TodoUpdateEvent {
	cp := make([]TodoItem, len(todos))
	copy(cp, todos)
	return TodoUpdateEvent{eventBase: eventBase{Type: EventTodoUpdate, ProjectID: projectID}, Todos: cp}
}

// GetType implements Event.
func (e TodoUpdateEvent) GetType() EventType { return e.Type }

// TitleUpdatedEvent carries a generated conversation title.
type TitleUpdatedEvent struct {
	eventBase
	Title string `json:"title"`
}

// NewTitleUpdatedEvent constructs a title_updated event.
func NewTitleUpdatedEvent(projectID, title string) TitleUpdatedEvent {
	return TitleUpdatedEvent{eventBase: eventBase{Type: EventTitleUpdated, ProjectID: projectID}, Title: title}
}

// GetType implements Event.
func (e TitleUpdatedEvent) GetType() EventType { return e.Type }

// CompleteEvent signals a successful reply to the user.
type CompleteEvent struct {
	eventBase
	Message string            `json:"message"`
	Files   map[string]string `json:"files,omitempty"`
}

// NewCompleteEvent constructs a complete event.
func NewCompleteEvent(projectID, message string, files map[string]string) CompleteEvent {
	return CompleteEvent{eventBase: eventBase{Type: EventComplete, ProjectID: projectID}, Message: message, Files: files}
}

// GetType implements Event.
func (e CompleteEvent) GetType() EventType { return e.Type }

// ErrorEvent reports a sanitized failure.
type ErrorEvent struct {
	eventBase
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewErrorEvent constructs an error event.
func NewErrorEvent(projectID, message, details string) ErrorEvent {
	return ErrorEvent{eventBase: eventBase{Type: EventError, ProjectID: projectID}, Message: message, Details: details}
}

// GetType implements Event.
func (e ErrorEvent) GetType() EventType { return e.Type }

// StoppedEvent signals a user-initiated stop.
type StoppedEvent struct {
	eventBase
	Message string `json:"message"`
}

// NewStoppedEvent constructs a stopped event.
func NewStoppedEvent(projectID, message string) StoppedEvent {
	return StoppedEvent{eventBase: eventBase{Type: EventStopped, ProjectID: projectID}, Message: message}
}

// GetType implements Event.
func (e StoppedEvent) GetType() EventType { return e.Type }

// DecodeEvent parses a JSON-encoded event back into its concrete type.
// Job snapshots and the WebSocket client use it to rebuild a timeline.
func DecodeEvent(data []byte) (Event, error) {
	var base eventBase
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var ev Event
	switch base.Type {
	case EventStatus:
		var e StatusEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventAgentStarted:
		var e AgentStartedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventIteration:
		var e IterationEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTodoUpdate:
		var e TodoUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventTitleUpdated:
		var e TitleUpdatedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventComplete:
		var e CompleteEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventError:
		var e ErrorEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	case EventStopped:
		var e StoppedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", base.Type)
	}
	return ev, nil
}
