package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// FileStore persists one JSON document per project under a base directory.
// Writes go through a temp file and rename so a crash never leaves a torn file.
type FileStore struct {
	basePath string
	mu       sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file store. dir is typically ~/.dyno.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		basePath: filepath.Join(dir, "conversations"),
	}
}

// ProjectHash generates a filesystem-safe name for a project id.
func (s *FileStore) ProjectHash(projectID string) string {
	hash := sha256.Sum256([]byte(projectID))
	return hex.EncodeToString(hash[:])[:16]
}

func (s *FileStore) path(projectID string) string {
	return filepath.Join(s.basePath, s.ProjectHash(projectID)+".json")
}

// Get loads the project's history. A missing file is an empty history.
func (s *FileStore) Get(_ context.Context, projectID string) ([]engine.Message, error) {
	conv, err := s.load(projectID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	return conv.History, nil
}

func (s *FileStore) load(projectID string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(projectID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// Set writes the project's history, preserving its creation time.
func (s *FileStore) Set(_ context.Context, projectID string, history []engine.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create conversation directory: %w", err)
	}

	now := time.Now().UTC()
	conv := Conversation{ProjectID: projectID, CreatedAt: now}
	if prev, err := s.load(projectID); err == nil && prev != nil {
		conv.CreatedAt = prev.CreatedAt
	}
	conv.UpdatedAt = now
	conv.History = history

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	tmp, err := os.CreateTemp(s.basePath, ".conversation-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write conversation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write conversation file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(projectID)); err != nil {
		return fmt.Errorf("failed to replace conversation file: %w", err)
	}
	return nil
}

// Delete removes the project's file. Deleting a missing conversation is not an error.
func (s *FileStore) Delete(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(projectID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}
	return nil
}
