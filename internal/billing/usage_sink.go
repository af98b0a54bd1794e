package billing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// UsageSink stores per-attempt usage records.
type UsageSink interface {
	RecordBatch(ctx context.Context, records []engine.UsageRecord) error
}

// SQLiteUsageSink writes usage records to the usage_records table.
type SQLiteUsageSink struct {
	db *sql.DB
}

// NewSQLiteUsageSink creates a usage sink over db.
func NewSQLiteUsageSink(db *sql.DB) *SQLiteUsageSink {
	return &SQLiteUsageSink{db: db}
}

// RecordBatch inserts all records in one transaction.
func (s *SQLiteUsageSink) RecordBatch(ctx context.Context, records []engine.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			invocation_id, project_id, user_id, iteration, model,
			input_tokens, output_tokens, cached_input_tokens,
			cost_usd, duration_ms, failed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		failed := 0
		if r.Failed {
			failed = 1
		}
		_, err := stmt.ExecContext(ctx,
			r.InvocationID, r.ProjectID, r.UserID, r.Iteration, r.Model,
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Usage.CachedInputTokens,
			r.Cost, r.Duration.Milliseconds(), failed, r.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert usage record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage batch: %w", err)
	}
	return nil
}

// InvocationUsage sums the stored records of one invocation.
func (s *SQLiteUsageSink) InvocationUsage(ctx context.Context, invocationID string) (engine.Usage, float64, error) {
	var u engine.Usage
	var cost float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cached_input_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_records WHERE invocation_id = ?
	`, invocationID).Scan(&u.InputTokens, &u.OutputTokens, &u.CachedInputTokens, &cost)
	if err != nil {
		return engine.Usage{}, 0, fmt.Errorf("query invocation usage: %w", err)
	}
	return u, cost, nil
}
