package session

import (
	"context"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// MemoryStore keeps conversations in process memory. It is not durable:
// history is lost on restart and is not shared between processes. Use it for
// tests and single-process development only.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Conversation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Conversation)}
}

// Get returns a copy of the project's history, or nil if there is none.
func (s *MemoryStore) Get(_ context.Context, projectID string) ([]engine.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.data[projectID].History), nil
}

// Set replaces the project's history with a copy of history.
func (s *MemoryStore) Set(_ context.Context, projectID string, history []engine.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	conv, ok := s.data[projectID]
	if !ok {
		conv = Conversation{ProjectID: projectID, CreatedAt: now}
	}
	conv.History = cloneHistory(history)
	conv.UpdatedAt = now
	s.data[projectID] = conv
	return nil
}

// Delete removes the project's history.
func (s *MemoryStore) Delete(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, projectID)
	return nil
}
