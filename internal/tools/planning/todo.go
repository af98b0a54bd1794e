// Package planning implements the todo list the build agent keeps while it works.
package planning

import (
	"fmt"
	"strings"

	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

// Summary counts todos by status.
type Summary struct {
	Pending    int
	InProgress int
	Completed  int
}

// Summarize counts todos by status.
func Summarize(todos []protocol.TodoItem) Summary {
	var s Summary
	for _, t := range todos {
		switch t.Status {
		case protocol.TodoPending:
			s.Pending++
		case protocol.TodoInProgress:
			s.InProgress++
		case protocol.TodoCompleted:
			s.Completed++
		}
	}
	return s
}

// Validate rejects todos with unknown statuses or no content.
func Validate(todos []protocol.TodoItem) error {
	for i, t := range todos {
		if strings.TrimSpace(t.Content) == "" {
			return fmt.Errorf("todo %d has no content", i+1)
		}
		if !t.Status.Valid() {
			return fmt.Errorf("todo %d (%q) has invalid status %q; use pending, in_progress or completed", i+1, t.Content, t.Status)
		}
	}
	return nil
}

// Write validates and replaces the todo list wholesale. The returned list is a
// copy; ok is false when the list was rejected and the old one stays.
func Write(todos []protocol.TodoItem) (text string, updated []protocol.TodoItem, ok bool) {
	if err := Validate(todos); err != nil {
		return "Error: " + err.Error(), nil, false
	}

	updated = make([]protocol.TodoItem, len(todos))
	copy(updated, todos)
	for i := range updated {
		if updated[i].ActiveForm == "" {
			updated[i].ActiveForm = updated[i].Content
		}
	}

	s := Summarize(updated)
	var b strings.Builder
	fmt.Fprintf(&b, "Todo list updated: %d items (%d completed, %d in progress, %d pending)",
		len(updated), s.Completed, s.InProgress, s.Pending)

	// Exactly one item should be in progress while work remains.
	if s.Completed < len(updated) && s.InProgress != 1 {
		fmt.Fprintf(&b, "\nWarning: %d todos are in_progress. Keep exactly one todo in_progress while work remains.", s.InProgress)
	}
	if len(updated) > 0 && s.Completed == len(updated) {
		b.WriteString("\nAll todos are completed. Reply to the user when the work is verified.")
	}
	return b.String(), updated, true
}
