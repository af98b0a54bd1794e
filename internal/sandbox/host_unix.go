//go:build !windows
// +build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// HostSandbox runs commands directly on the host machine, rooted at a directory.
// It provides no isolation and is meant for development and tests.
type HostSandbox struct {
	id     string
	root   string
	config Config
}

// NewHostSandbox creates a host sandbox rooted at root, creating it if needed.
func NewHostSandbox(id, root string, config Config) (*HostSandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return &HostSandbox{id: id, root: abs, config: config.withDefaults()}, nil
}

// ID implements Sandbox.
func (s *HostSandbox) ID() string { return s.id }

// Root returns the host directory backing the sandbox.
func (s *HostSandbox) Root() string { return s.root }

// resolve maps a sandbox path onto the host, rejecting escapes from the root.
func (s *HostSandbox) resolve(p string) (string, error) {
	// Absolute paths are interpreted relative to the root, as inside a container.
	full := filepath.Clean(filepath.Join(s.root, p))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the sandbox", p)
	}
	return full, nil
}

// Open implements Sandbox.
func (s *HostSandbox) Open(_ context.Context, path string, mode OpenMode) (File, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	switch mode {
	case OpenRead:
		f, err := os.Open(full)
		if err != nil {
			return nil, err
		}
		return &hostFile{f: f, mode: mode}, nil
	case OpenWrite:
		f, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		return &hostFile{f: f, mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown open mode %d", mode)
	}
}

type hostFile struct {
	f    *os.File
	mode OpenMode
}

func (h *hostFile) Read(p []byte) (int, error) {
	if h.mode != OpenRead {
		return 0, ErrWrongMode
	}
	return h.f.Read(p)
}

func (h *hostFile) Write(p []byte) (int, error) {
	if h.mode != OpenWrite {
		return 0, ErrWrongMode
	}
	return h.f.Write(p)
}

func (h *hostFile) Close() error { return h.f.Close() }

// Exec implements Sandbox. The process runs in its own process group so the
// whole tree is killed when the timeout fires. Cancelling ctx only stops the
// wait: the command keeps running until it exits or times out.
func (s *HostSandbox) Exec(ctx context.Context, req ExecRequest) (Result, error) {
	if err := validateCommand(req); err != nil {
		return Result{}, err
	}
	dir := s.root
	if req.Dir != "" {
		resolved, err := s.resolve(req.Dir)
		if err != nil {
			return Result{}, err
		}
		dir = resolved
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "SANDBOX_ROOT="+s.root)
	cmd.Env = append(cmd.Env, req.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectiveTimeout(req.Timeout, s.config.CmdTimeout))
	finished := make(chan hostExit, 1)
	go func() {
		defer cancel()
		done := make(chan struct{})
		go func() {
			select {
			case <-runCtx.Done():
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			case <-done:
			}
		}()
		err := cmd.Wait()
		close(done)
		finished <- hostExit{err: err, timedOut: errors.Is(runCtx.Err(), context.DeadlineExceeded)}
	}()

	var exit hostExit
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case exit = <-finished:
	}

	res := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		TimedOut: exit.timedOut,
	}
	if exit.err != nil {
		res.Code = 1
		var exitErr *exec.ExitError
		if errors.As(exit.err, &exitErr) {
			res.Code = exitErr.ExitCode()
			return res, nil
		}
		return res, exit.err
	}
	return res, nil
}

type hostExit struct {
	err      error
	timedOut bool
}
