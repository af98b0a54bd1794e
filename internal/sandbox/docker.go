package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

const labelManaged = "dyno.sandbox"

// newDockerClient creates a Docker client and verifies the daemon is reachable.
func newDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}
	return cli, nil
}

// DockerSandbox is a long-lived container that commands are exec'd into.
type DockerSandbox struct {
	client      *client.Client
	containerID string
	config      Config
}

// ID implements Sandbox.
func (s *DockerSandbox) ID() string { return s.containerID }

func (s *DockerSandbox) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.config.Workdir, p)
}

// createContainer starts a new idle container for a project.
func createContainer(ctx context.Context, cli *client.Client, config Config, projectID string) (string, error) {
	if err := ensureImage(ctx, cli, config.Image); err != nil {
		return "", fmt.Errorf("failed to ensure image %s: %w", config.Image, err)
	}

	memory, err := units.RAMInBytes(config.Memory)
	if err != nil {
		return "", fmt.Errorf("invalid sandbox memory %q: %w", config.Memory, err)
	}
	cpus, err := strconv.ParseFloat(config.CPU, 64)
	if err != nil || cpus <= 0 {
		cpus = 2
	}

	port := nat.Port(fmt.Sprintf("%d/tcp", config.Port))
	containerConfig := &container.Config{
		Image:        config.Image,
		Cmd:          []string{"sleep", "infinity"},
		WorkingDir:   config.Workdir,
		Env:          []string{"HOME=/root", "CI=1", "EXPO_NO_TELEMETRY=1"},
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{labelManaged: "true", labelManaged + ".project": projectID},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1"}}},
		Resources: container.Resources{
			Memory:   memory,
			NanoCPUs: int64(cpus * 1e9),
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: 4096, Hard: 4096},
			},
		},
		SecurityOpt: []string{"no-new-privileges"},
	}

	created, err := cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return created.ID, nil
}

// previewPort returns the host port bound to the dev server port, or "".
func previewPort(ctx context.Context, cli *client.Client, containerID string, port int) string {
	info, err := cli.ContainerInspect(ctx, containerID)
	if err != nil || info.NetworkSettings == nil {
		return ""
	}
	bindings := info.NetworkSettings.Ports[nat.Port(fmt.Sprintf("%d/tcp", port))]
	if len(bindings) == 0 {
		return ""
	}
	return bindings[0].HostPort
}

func removeContainer(ctx context.Context, cli *client.Client, containerID string) error {
	return cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Exec implements Sandbox. On timeout the caller stops waiting; the process
// inside the container keeps running until it exits on its own.
func (s *DockerSandbox) Exec(ctx context.Context, req ExecRequest) (Result, error) {
	if err := validateCommand(req); err != nil {
		return Result{}, err
	}
	dir := s.config.Workdir
	if req.Dir != "" {
		dir = s.abs(req.Dir)
	}

	// The exec outlives a cancelled ctx; only its own timeout cuts it short.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectiveTimeout(req.Timeout, s.config.CmdTimeout))
	defer cancel()

	created, err := s.client.ContainerExecCreate(execCtx, s.containerID, container.ExecOptions{
		Cmd:          req.Command,
		WorkingDir:   dir,
		Env:          req.Env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := s.client.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		attach.Close()
		<-copyDone
		return Result{}, ctx.Err()
	case <-execCtx.Done():
		attach.Close()
		<-copyDone
		return Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Code:     1,
			TimedOut: true,
		}, nil
	case err := <-copyDone:
		if err != nil && !errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("exec read output: %w", err)
		}
	}

	inspect, err := s.client.ContainerExecInspect(context.WithoutCancel(ctx), created.ID)
	if err != nil {
		return Result{}, fmt.Errorf("exec inspect: %w", err)
	}
	return Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Code:   inspect.ExitCode,
	}, nil
}

// Open implements Sandbox. Reads stream a tar archive out of the container;
// writes are buffered and copied in as a tar archive on Close.
func (s *DockerSandbox) Open(ctx context.Context, p string, mode OpenMode) (File, error) {
	full := s.abs(p)
	switch mode {
	case OpenRead:
		rc, stat, err := s.client.CopyFromContainer(ctx, s.containerID, full)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, fmt.Errorf("open %s: %w", p, fs.ErrNotExist)
			}
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		if stat.Mode.IsDir() {
			rc.Close()
			return nil, fmt.Errorf("open %s: is a directory", p)
		}
		tr := tar.NewReader(rc)
		for {
			hdr, err := tr.Next()
			if err != nil {
				rc.Close()
				return nil, fmt.Errorf("open %s: %w", p, err)
			}
			if hdr.Typeflag == tar.TypeReg {
				break
			}
		}
		return &dockerReadFile{r: tr, closer: rc}, nil
	case OpenWrite:
		return &dockerWriteFile{ctx: ctx, sb: s, path: full}, nil
	default:
		return nil, fmt.Errorf("unknown open mode %d", mode)
	}
}

type dockerReadFile struct {
	r      io.Reader
	closer io.Closer
}

func (f *dockerReadFile) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *dockerReadFile) Write(p []byte) (int, error) { return 0, ErrWrongMode }
func (f *dockerReadFile) Close() error                { return f.closer.Close() }

type dockerWriteFile struct {
	ctx    context.Context
	sb     *DockerSandbox
	path   string
	buf    bytes.Buffer
	closed bool
}

func (f *dockerWriteFile) Read(p []byte) (int, error)  { return 0, ErrWrongMode }
func (f *dockerWriteFile) Write(p []byte) (int, error) { return f.buf.Write(p) }

func (f *dockerWriteFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	var archive bytes.Buffer
	tw := tar.NewWriter(&archive)
	hdr := &tar.Header{
		Name:    path.Base(f.path),
		Mode:    0644,
		Size:    int64(f.buf.Len()),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if _, err := tw.Write(f.buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}

	err := f.sb.client.CopyToContainer(f.ctx, f.sb.containerID, path.Dir(f.path), &archive, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// ensureImage checks if the image exists locally, and pulls it if not.
func ensureImage(ctx context.Context, cli *client.Client, imageName string) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain the pull output (required for pull to complete)
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func isManagedContainer(labels map[string]string) bool {
	return strings.EqualFold(labels[labelManaged], "true")
}
