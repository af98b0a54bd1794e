package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
)

// SQLiteJobStore keeps jobs in the jobs table. Events are stored as a JSON array.
type SQLiteJobStore struct {
	db *sql.DB
}

// NewSQLiteJobStore creates a job store over db.
func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

// Create implements JobStore.
func (s *SQLiteJobStore) Create(ctx context.Context, job Job) error {
	events := job.Events
	if events == nil {
		events = []json.RawMessage{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, project_id, variant, status, events, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.ProjectID, job.Variant, string(job.Status), string(data),
		job.CreatedAt.UnixMilli(), job.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// AppendEvent implements JobStore.
func (s *SQLiteJobStore) AppendEvent(ctx context.Context, jobID string, event json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET events = json_insert(events, '$[#]', json(?)), updated_at = ?
		WHERE job_id = ?
	`, string(event), time.Now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return checkAffected(res)
}

// Finish implements JobStore.
func (s *SQLiteJobStore) Finish(ctx context.Context, jobID string, result engine.Result) error {
	r := result
	r.History = nil
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, updated_at = ? WHERE job_id = ?
	`, string(StatusFor(result.Outcome)), string(data), time.Now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return checkAffected(res)
}

// Get implements JobStore.
func (s *SQLiteJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	var (
		job            Job
		status, events string
		result         sql.NullString
		created, upd   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, project_id, variant, status, events, result, created_at, updated_at
		FROM jobs WHERE job_id = ?
	`, jobID).Scan(&job.ID, &job.ProjectID, &job.Variant, &status, &events, &result, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	job.Status = JobStatus(status)
	job.CreatedAt = time.UnixMilli(created).UTC()
	job.UpdatedAt = time.UnixMilli(upd).UTC()
	if err := json.Unmarshal([]byte(events), &job.Events); err != nil {
		return nil, fmt.Errorf("decode job events: %w", err)
	}
	if result.Valid {
		var r engine.Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &r
	}
	return &job, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
