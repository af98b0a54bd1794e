package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// usageTab accumulates planner usage for one invocation and settles it once.
type usageTab struct {
	meter     Meter
	invID     string
	projectID string
	userID    string

	mu      sync.Mutex
	records []UsageRecord
	total   Usage
	cost    float64

	once sync.Once
}

func newUsageTab(meter Meter, inv Invocation) *usageTab {
	return &usageTab{meter: meter, invID: inv.ID, projectID: inv.ProjectID, userID: inv.UserID}
}

// record adds one planner attempt. Attempts that reported neither usage nor a
// model produced no metrics and are skipped.
func (t *usageTab) record(ctx context.Context, iteration int, resp PlanResponse, took time.Duration, failed bool) {
	if resp.Usage.IsZero() && resp.Model == "" {
		return
	}
	var cost float64
	if t.meter != nil {
		cost = t.meter.Cost(ctx, resp.Model, resp.Usage)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, UsageRecord{
		InvocationID: t.invID,
		ProjectID:    t.projectID,
		UserID:       t.userID,
		Iteration:    iteration,
		Model:        resp.Model,
		Usage:        resp.Usage,
		Cost:         cost,
		Duration:     took,
		Failed:       failed,
		CreatedAt:    time.Now().UTC(),
	})
	t.total = t.total.Add(resp.Usage)
	t.cost += cost
}

func (t *usageTab) totals() (Usage, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.cost
}

// flush hands the records to the meter exactly once. It runs on a context
// detached from cancellation and never panics into the caller.
func (t *usageTab) flush(ctx context.Context) {
	t.once.Do(func() {
		if t.meter == nil {
			return
		}
		t.mu.Lock()
		records := make([]UsageRecord, len(t.records))
		copy(records, t.records)
		t.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				slog.Error("usage flush panicked", "invocation", t.invID, "panic", fmt.Sprint(r))
			}
		}()
		t.meter.Flush(context.WithoutCancel(ctx), t.userID, t.projectID, records)
	})
}
