package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

// ActionKind is the wire name of a planner action.
type ActionKind string

const (
	KindListFiles    ActionKind = "list_files"
	KindReadFile     ActionKind = "read_file"
	KindReadFiles    ActionKind = "read_files"
	KindWriteFile    ActionKind = "write_file"
	KindEditFile     ActionKind = "edit_file"
	KindBash         ActionKind = "bash"
	KindTodoWrite    ActionKind = "todo_write"
	KindVerifyServer ActionKind = "verify_server"
	KindReplyToUser  ActionKind = "reply_to_user"
)

// ActionKinds lists every action the planner can emit.
func ActionKinds() []ActionKind {
	return []ActionKind{
		KindListFiles, KindReadFile, KindReadFiles, KindWriteFile, KindEditFile,
		KindBash, KindTodoWrite, KindVerifyServer, KindReplyToUser,
	}
}

// Action is the closed set of things the planner may ask for.
// Only types in this file implement it.
type Action interface {
	Kind() ActionKind
	isAction()
}

// ListFiles enumerates one directory level.
type ListFiles struct {
	DirectoryPath string `json:"directoryPath"`
}

// ReadFile reads one file as text.
type ReadFile struct {
	FilePath string `json:"filePath"`
}

// ReadFiles runs several ReadFile/ListFiles actions concurrently.
type ReadFiles struct {
	Tools []Action `json:"-"`
}

// WriteFile creates or overwrites a file.
type WriteFile struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// EditFile performs an exact search/replace in a file.
type EditFile struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// Bash runs a shell command. Timeout is in seconds; 0 means the default.
type Bash struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// TodoWrite replaces the todo list wholesale.
type TodoWrite struct {
	Todos []protocol.TodoItem `json:"todos"`
}

// VerifyServer tails the dev server log.
type VerifyServer struct {
	TailLines int `json:"tailLines,omitempty"`
}

// ReplyToUser ends the invocation with a message.
type ReplyToUser struct {
	Message string `json:"message"`
}

func (ListFiles) Kind() ActionKind    { return KindListFiles }
func (ReadFile) Kind() ActionKind     { return KindReadFile }
func (ReadFiles) Kind() ActionKind    { return KindReadFiles }
func (WriteFile) Kind() ActionKind    { return KindWriteFile }
func (EditFile) Kind() ActionKind     { return KindEditFile }
func (Bash) Kind() ActionKind         { return KindBash }
func (TodoWrite) Kind() ActionKind    { return KindTodoWrite }
func (VerifyServer) Kind() ActionKind { return KindVerifyServer }
func (ReplyToUser) Kind() ActionKind  { return KindReplyToUser }

func (ListFiles) isAction()    {}
func (ReadFile) isAction()     {}
func (ReadFiles) isAction()    {}
func (WriteFile) isAction()    {}
func (EditFile) isAction()     {}
func (Bash) isAction()         {}
func (TodoWrite) isAction()    {}
func (VerifyServer) isAction() {}
func (ReplyToUser) isAction()  {}

type readItemJSON struct {
	Tool          ActionKind `json:"tool"`
	FilePath      string     `json:"filePath,omitempty"`
	DirectoryPath string     `json:"directoryPath,omitempty"`
}

// MarshalJSON encodes sub-actions as {"tool": ..., "filePath"|"directoryPath": ...}.
func (r ReadFiles) MarshalJSON() ([]byte, error) {
	items := make([]readItemJSON, 0, len(r.Tools))
	for _, t := range r.Tools {
		switch a := t.(type) {
		case ReadFile:
			items = append(items, readItemJSON{Tool: KindReadFile, FilePath: a.FilePath})
		case ListFiles:
			items = append(items, readItemJSON{Tool: KindListFiles, DirectoryPath: a.DirectoryPath})
		default:
			return nil, fmt.Errorf("read_files cannot contain %s", t.Kind())
		}
	}
	return json.Marshal(struct {
		Tools []readItemJSON `json:"tools"`
	}{Tools: items})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *ReadFiles) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tools []readItemJSON `json:"tools"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Tools = make([]Action, 0, len(raw.Tools))
	for i, item := range raw.Tools {
		switch item.Tool {
		case KindReadFile:
			r.Tools = append(r.Tools, ReadFile{FilePath: item.FilePath})
		case KindListFiles:
			r.Tools = append(r.Tools, ListFiles{DirectoryPath: item.DirectoryPath})
		default:
			return fmt.Errorf("read_files item %d: unsupported tool %q", i, item.Tool)
		}
	}
	return nil
}

// parseAction decodes args into the concrete type for kind without schema checks.
func parseAction(kind ActionKind, args json.RawMessage) (Action, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var (
		action Action
		err    error
	)
	switch kind {
	case KindListFiles:
		var a ListFiles
		err = json.Unmarshal(args, &a)
		action = a
	case KindReadFile:
		var a ReadFile
		err = json.Unmarshal(args, &a)
		action = a
	case KindReadFiles:
		var a ReadFiles
		err = json.Unmarshal(args, &a)
		action = a
	case KindWriteFile:
		var a WriteFile
		err = json.Unmarshal(args, &a)
		action = a
	case KindEditFile:
		var a EditFile
		err = json.Unmarshal(args, &a)
		action = a
	case KindBash:
		var a Bash
		err = json.Unmarshal(args, &a)
		action = a
	case KindTodoWrite:
		var a TodoWrite
		err = json.Unmarshal(args, &a)
		action = a
	case KindVerifyServer:
		var a VerifyServer
		err = json.Unmarshal(args, &a)
		action = a
	case KindReplyToUser:
		var a ReplyToUser
		err = json.Unmarshal(args, &a)
		action = a
	default:
		return nil, fmt.Errorf("unknown action %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", kind, err)
	}
	return action, nil
}

// Describe returns the short human-readable label shown for an iteration.
func Describe(a Action) string {
	switch v := a.(type) {
	case ListFiles:
		dir := v.DirectoryPath
		if dir == "" || dir == "." {
			dir = "project root"
		}
		return "Listing " + dir
	case ReadFile:
		return "Reading " + v.FilePath
	case ReadFiles:
		if len(v.Tools) == 1 {
			return Describe(v.Tools[0])
		}
		return fmt.Sprintf("Reading %d files", len(v.Tools))
	case WriteFile:
		return "Writing " + v.FilePath
	case EditFile:
		return "Editing " + v.FilePath
	case Bash:
		return "Running " + firstLine(v.Command, 60)
	case TodoWrite:
		return "Updating todo list"
	case VerifyServer:
		return "Checking server logs"
	case ReplyToUser:
		return "Replying"
	default:
		return "Working"
	}
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > max {
		n := max
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n] + "..."
	}
	return s
}

// FilesFromHistory recovers the final content of every file written by
// write_file actions in history. Later writes win.
func FilesFromHistory(history []Message) map[string]string {
	files := make(map[string]string)
	for _, m := range history {
		if m.ToolCall == nil {
			continue
		}
		if w, ok := m.ToolCall.Action.(WriteFile); ok {
			files[w.FilePath] = w.Content
		}
	}
	return files
}
