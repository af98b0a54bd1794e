package engine

import "github.com/ChamsBouzaiene/dyno/internal/engine/protocol"

// State is the mutable state of one invocation. It is owned by the loop
// for the duration of Run; hooks must treat it as read-only.
type State struct {
	InvocationID  string
	ProjectID     string
	UserID        string
	Variant       string
	History       []Message           // Conversation history, append-only
	Iteration     int                 // Completed tool iterations this invocation
	MaxIterations int                 // Ceiling checked before every planner call
	Retries       int                 // Planner retries this invocation
	Todos         []protocol.TodoItem // Current todo list (build variant)
	Files         map[string]string   // Files written this invocation, path -> content
}

func (s *State) Append(msg Message) { s.History = append(s.History, msg) }

// snapshot returns a copy of the history safe to hand to other goroutines.
func (s *State) snapshot() []Message {
	out := make([]Message, len(s.History))
	copy(out, s.History)
	return out
}
