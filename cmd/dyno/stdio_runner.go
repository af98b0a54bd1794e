package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/engine/protocol"
	"github.com/ChamsBouzaiene/dyno/internal/progress"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// agentSource resolves agents by variant.
type agentSource interface {
	Agent(variant string) (*engine.Agent, error)
}

// sandboxSource creates and resolves sandboxes.
type sandboxSource interface {
	Create(ctx context.Context, projectID string) (sandbox.Info, error)
	Get(ctx context.Context, id string) (sandbox.Sandbox, error)
}

// stdioRunner reads NDJSON commands and writes NDJSON events. Each project
// runs at most one invocation at a time; runs of different projects proceed
// concurrently and share the output stream.
type stdioRunner struct {
	scanner   *bufio.Scanner
	sink      *progress.NDJSONSink
	agents    agentSource
	sandboxes sandboxSource

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	projectSB map[string]string // project id -> sandbox created for it
	wg        sync.WaitGroup
}

func newStdioRunner(in io.Reader, out io.Writer, agents agentSource, sandboxes sandboxSource) *stdioRunner {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &stdioRunner{
		scanner:   scanner,
		sink:      progress.NewNDJSONSink(out),
		agents:    agents,
		sandboxes: sandboxes,
		running:   make(map[string]context.CancelFunc),
		projectSB: make(map[string]string),
	}
}

// Run processes commands until stdin closes, then waits for in-flight runs.
// Cancelling ctx stops every run.
func (r *stdioRunner) Run(ctx context.Context) error {
	r.emit(ctx, protocol.NewStatusEvent("", "ready"))

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for r.scanner.Scan() {
			lines <- r.scanner.Text()
		}
		scanErr <- r.scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			r.cancelAll()
			r.wg.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				r.wg.Wait()
				if err := <-scanErr; err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read stdin: %w", err)
				}
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			r.handleLine(ctx, line)
		}
	}
}

func (r *stdioRunner) handleLine(ctx context.Context, line string) {
	cmd, err := protocol.DecodeCommand([]byte(line))
	if err != nil {
		r.emit(ctx, protocol.NewErrorEvent("", "invalid command", err.Error()))
		return
	}

	switch c := cmd.(type) {
	case protocol.RunCommand:
		if err := r.start(ctx, c); err != nil {
			r.emit(ctx, protocol.NewErrorEvent(c.ProjectID, err.Error(), ""))
		}
	case protocol.CancelCommand:
		r.mu.Lock()
		cancel, ok := r.running[c.ProjectID]
		r.mu.Unlock()
		if !ok {
			r.emit(ctx, protocol.NewErrorEvent(c.ProjectID, "no running invocation", ""))
			return
		}
		cancel()
	}
}

// start launches c in the background.
func (r *stdioRunner) start(ctx context.Context, c protocol.RunCommand) error {
	agent, err := r.agents.Agent(c.Variant)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, busy := r.running[c.ProjectID]; busy {
		r.mu.Unlock()
		return errors.New("project already has a running invocation")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running[c.ProjectID] = cancel
	r.mu.Unlock()

	sb, err := r.sandboxFor(ctx, c)
	if err != nil {
		r.release(c.ProjectID)
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(c.ProjectID)
		res := agent.Run(runCtx, engine.Invocation{
			ProjectID:  c.ProjectID,
			UserID:     c.UserID,
			Prompt:     c.Prompt,
			WorkingDir: c.WorkingDir,
			Sandbox:    sb,
			Sink:       r.sink,
		})
		slog.Info("run finished", "project", c.ProjectID, "invocation", res.InvocationID, "outcome", res.Outcome, "iterations", res.Iterations)
	}()
	return nil
}

// sandboxFor resolves the command's sandbox, creating one per project when
// none is named.
func (r *stdioRunner) sandboxFor(ctx context.Context, c protocol.RunCommand) (sandbox.Sandbox, error) {
	id := c.SandboxID
	if id == "" {
		r.mu.Lock()
		id = r.projectSB[c.ProjectID]
		r.mu.Unlock()
	}
	if id == "" {
		info, err := r.sandboxes.Create(ctx, c.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create sandbox: %w", err)
		}
		id = info.ID
		r.mu.Lock()
		r.projectSB[c.ProjectID] = id
		r.mu.Unlock()
		r.emit(ctx, protocol.NewStatusEvent(c.ProjectID, "sandbox "+id+" created"))
	}
	return r.sandboxes.Get(ctx, id)
}

func (r *stdioRunner) release(projectID string) {
	r.mu.Lock()
	if cancel, ok := r.running[projectID]; ok {
		cancel()
		delete(r.running, projectID)
	}
	r.mu.Unlock()
}

func (r *stdioRunner) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.running {
		cancel()
	}
}

func (r *stdioRunner) emit(ctx context.Context, ev protocol.Event) {
	if err := r.sink.Emit(ctx, ev); err != nil {
		slog.Warn("failed to write event", "type", ev.GetType(), "error", err)
	}
}
