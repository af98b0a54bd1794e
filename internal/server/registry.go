package server

import (
	"context"
	"sync"
)

// activeRun is an invocation currently executing for a project.
type activeRun struct {
	invocationID string
	variant      string
	cancel       context.CancelFunc
}

// registry allows one running invocation per project in this process.
type registry struct {
	mu   sync.Mutex
	runs map[string]*activeRun
	wg   sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*activeRun)}
}

// acquire registers a run for projectID. It returns false if one is already
// running. The returned release must be called when the run ends.
func (r *registry) acquire(parent context.Context, projectID, invocationID, variant string) (context.Context, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.runs[projectID]; busy {
		return nil, nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	run := &activeRun{invocationID: invocationID, variant: variant, cancel: cancel}
	r.runs[projectID] = run
	r.wg.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			r.mu.Lock()
			if r.runs[projectID] == run {
				delete(r.runs, projectID)
			}
			r.mu.Unlock()
			r.wg.Done()
		})
	}
	return ctx, release, true
}

// stop cancels the project's run. It reports whether one was running.
func (r *registry) stop(projectID string) (*activeRun, bool) {
	r.mu.Lock()
	run, ok := r.runs[projectID]
	r.mu.Unlock()
	if ok {
		run.cancel()
	}
	return run, ok
}

func (r *registry) busy(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[projectID]
	return ok
}

// stopAll cancels every run.
func (r *registry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		run.cancel()
	}
}

// wait blocks until every run has been released or ctx is done.
func (r *registry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
