package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

// Result captures output of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// ExecRequest describes one process to run inside a sandbox.
type ExecRequest struct {
	Command []string      // argv, e.g. []string{"sh", "-lc", "npm install"}
	Dir     string        // working directory inside the sandbox ("" = sandbox default)
	Env     []string      // extra KEY=VALUE pairs
	Timeout time.Duration // <=0 uses the sandbox default
}

// OpenMode selects how a sandbox file is opened.
type OpenMode int

const (
	// OpenRead opens an existing file for reading.
	OpenRead OpenMode = iota
	// OpenWrite creates or truncates a file; content is committed on Close.
	OpenWrite
)

// File is a byte-oriented handle to a file inside a sandbox.
// Read is valid for OpenRead handles, Write for OpenWrite handles.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// Sandbox is a remote execution environment exposing file and process primitives.
// Implementations must be safe for concurrent use; read_files fans out over one handle.
type Sandbox interface {
	ID() string
	// Open opens path (absolute, or relative to the sandbox root).
	Open(ctx context.Context, path string, mode OpenMode) (File, error)
	// Exec runs a process and waits for it. A non-zero exit code is not an error;
	// an error means the process could not be started or observed.
	Exec(ctx context.Context, req ExecRequest) (Result, error)
}

var (
	// ErrNotFound is returned when a sandbox id is unknown.
	ErrNotFound = errors.New("sandbox not found")
	// ErrWrongMode is returned when reading a write handle or writing a read handle.
	ErrWrongMode = errors.New("operation not permitted by open mode")
)

// ReadFile is a convenience wrapper reading a whole file through Open.
func ReadFile(ctx context.Context, sb Sandbox, path string) ([]byte, error) {
	f, err := sb.Open(ctx, path, OpenRead)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile is a convenience wrapper writing a whole file through Open.
func WriteFile(ctx context.Context, sb Sandbox, path string, data []byte) error {
	f, err := sb.Open(ctx, path, OpenWrite)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Shell builds an ExecRequest running command through sh -lc.
func Shell(command, dir string, timeout time.Duration) ExecRequest {
	return ExecRequest{Command: []string{"sh", "-lc", command}, Dir: dir, Timeout: timeout}
}
