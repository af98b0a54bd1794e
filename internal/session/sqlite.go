package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// SQLiteStore keeps conversations in the conversations table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store over an opened database (see internal/database).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get loads the project's history, or nil if there is none.
func (s *SQLiteStore) Get(ctx context.Context, projectID string) ([]engine.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT history FROM conversations WHERE project_id = ?`, projectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var history []engine.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return history, nil
}

// Set upserts the project's history.
func (s *SQLiteStore) Set(ctx context.Context, projectID string, history []engine.Message) error {
	if history == nil {
		history = []engine.Message{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (project_id, history, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			history = excluded.history,
			messages = excluded.messages,
			updated_at = excluded.updated_at
	`, projectID, string(data), len(history), now, now)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Delete removes the project's history.
func (s *SQLiteStore) Delete(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}
