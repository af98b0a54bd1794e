// Package session persists conversation state per project.
package session

import (
	"context"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// Store is the conversation state store used by the agent loop, plus Delete
// for resetting a project's conversation.
type Store interface {
	engine.StateStore
	Delete(ctx context.Context, projectID string) error
}

// Conversation is the persisted form of one project's history.
type Conversation struct {
	ProjectID string           `json:"project_id"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	History   []engine.Message `json:"history"`
}

func cloneHistory(h []engine.Message) []engine.Message {
	if h == nil {
		return nil
	}
	out := make([]engine.Message, len(h))
	copy(out, h)
	return out
}
