package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
)

// JobStatus is the lifecycle state of a background run.
type JobStatus string

const (
	JobRunning         JobStatus = "running"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobStopped         JobStatus = "stopped"
	JobBudgetExhausted JobStatus = "budget_exhausted"
)

// StatusFor maps an invocation outcome to a job status.
func StatusFor(outcome engine.Outcome) JobStatus {
	switch outcome {
	case engine.OutcomeCompleted:
		return JobCompleted
	case engine.OutcomeStopped:
		return JobStopped
	case engine.OutcomeBudgetExhausted:
		return JobBudgetExhausted
	default:
		return JobFailed
	}
}

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Job is a background run and its event timeline.
type Job struct {
	ID        string            `json:"jobId"`
	ProjectID string            `json:"projectId"`
	Variant   string            `json:"variant"`
	Status    JobStatus         `json:"status"`
	Events    []json.RawMessage `json:"events"`
	Result    *engine.Result    `json:"result,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// NewJob creates a running job with a fresh id.
func NewJob(projectID, variant string) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Variant:   variant,
		Status:    JobRunning,
		Events:    []json.RawMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JobStore persists jobs and their events.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	AppendEvent(ctx context.Context, jobID string, event json.RawMessage) error
	Finish(ctx context.Context, jobID string, result engine.Result) error
	Get(ctx context.Context, jobID string) (*Job, error)
}

// JobSink appends every event to a job's timeline.
type JobSink struct {
	store JobStore
	jobID string
}

// NewJobSink creates a sink for jobID.
func NewJobSink(store JobStore, jobID string) *JobSink {
	return &JobSink{store: store, jobID: jobID}
}

// Emit implements engine.ProgressSink.
func (s *JobSink) Emit(ctx context.Context, ev protocol.Event) error {
	payload, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.store.AppendEvent(ctx, s.jobID, payload)
}

// MemoryJobStore keeps jobs in process memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// Create implements JobStore.
func (m *MemoryJobStore) Create(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	j := job
	j.Events = append([]json.RawMessage{}, job.Events...)
	m.jobs[job.ID] = &j
	return nil
}

// AppendEvent implements JobStore.
func (m *MemoryJobStore) AppendEvent(_ context.Context, jobID string, event json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.Events = append(j.Events, append(json.RawMessage(nil), event...))
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Finish implements JobStore.
func (m *MemoryJobStore) Finish(_ context.Context, jobID string, result engine.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	r := result
	r.History = nil
	j.Result = &r
	j.Status = StatusFor(result.Outcome)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// Get implements JobStore.
func (m *MemoryJobStore) Get(_ context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	cp.Events = append([]json.RawMessage{}, j.Events...)
	return &cp, nil
}
