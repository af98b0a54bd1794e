package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// Info describes a created sandbox.
type Info struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Mode        Mode   `json:"mode"`
	Image       string `json:"image,omitempty"`
	PreviewPort string `json:"preview_port,omitempty"`
}

// Manager creates, looks up and terminates sandboxes.
type Manager struct {
	config Config
	mode   Mode
	docker *client.Client

	mu      sync.Mutex
	handles map[string]Sandbox
}

// NewManager resolves the configured mode and connects to Docker when needed.
func NewManager(ctx context.Context, config Config) (*Manager, error) {
	config = config.withDefaults()
	m := &Manager{
		config:  config,
		mode:    ResolveMode(ctx, config.Mode),
		handles: make(map[string]Sandbox),
	}
	if m.mode == ModeDocker {
		cli, err := newDockerClient()
		if err != nil {
			return nil, err
		}
		m.docker = cli
	}
	return m, nil
}

// Mode returns the resolved sandbox mode.
func (m *Manager) Mode() Mode { return m.mode }

// Create provisions a new sandbox for projectID.
func (m *Manager) Create(ctx context.Context, projectID string) (Info, error) {
	switch m.mode {
	case ModeDocker:
		id, err := createContainer(ctx, m.docker, m.config, projectID)
		if err != nil {
			return Info{}, err
		}
		sb := &DockerSandbox{client: m.docker, containerID: id, config: m.config}
		if _, err := sb.Exec(ctx, Shell("mkdir -p "+m.config.Workdir, "/", 0)); err != nil {
			slog.Warn("failed to create sandbox workdir", "sandbox", id, "error", err)
		}
		m.remember(sb)
		info := Info{
			ID:          id,
			ProjectID:   projectID,
			Mode:        ModeDocker,
			Image:       m.config.Image,
			PreviewPort: previewPort(ctx, m.docker, id, m.config.Port),
		}
		slog.Info("sandbox created", "sandbox", id, "project", projectID, "mode", m.mode)
		return info, nil
	default:
		id := uuid.NewString()
		sb, err := NewHostSandbox(id, filepath.Join(m.config.HostRoot, id), m.config)
		if err != nil {
			return Info{}, err
		}
		m.remember(sb)
		slog.Info("sandbox created", "sandbox", id, "project", projectID, "mode", m.mode)
		return Info{ID: id, ProjectID: projectID, Mode: ModeHost}, nil
	}
}

// Get returns a handle to an existing sandbox.
func (m *Manager) Get(ctx context.Context, id string) (Sandbox, error) {
	m.mu.Lock()
	sb, ok := m.handles[id]
	m.mu.Unlock()
	if ok {
		return sb, nil
	}

	switch m.mode {
	case ModeDocker:
		info, err := m.docker.ContainerInspect(ctx, id)
		if err != nil {
			if client.IsErrNotFound(err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, fmt.Errorf("inspect sandbox %s: %w", id, err)
		}
		if info.Config == nil || !isManagedContainer(info.Config.Labels) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		sb := &DockerSandbox{client: m.docker, containerID: info.ID, config: m.config}
		m.remember(sb)
		return sb, nil
	default:
		root := filepath.Join(m.config.HostRoot, filepath.Base(id))
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		sb, err := NewHostSandbox(id, root, m.config)
		if err != nil {
			return nil, err
		}
		m.remember(sb)
		return sb, nil
	}
}

// Terminate destroys a sandbox and everything in it.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()

	switch m.mode {
	case ModeDocker:
		if err := removeContainer(ctx, m.docker, id); err != nil {
			if client.IsErrNotFound(err) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return fmt.Errorf("terminate sandbox %s: %w", id, err)
		}
	default:
		root := filepath.Join(m.config.HostRoot, filepath.Base(id))
		if _, err := os.Stat(root); err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := os.RemoveAll(root); err != nil {
			return fmt.Errorf("terminate sandbox %s: %w", id, err)
		}
	}
	slog.Info("sandbox terminated", "sandbox", id)
	return nil
}

// Close releases the Docker client, if any.
func (m *Manager) Close() error {
	if m.docker != nil {
		return m.docker.Close()
	}
	return nil
}

func (m *Manager) remember(sb Sandbox) {
	m.mu.Lock()
	m.handles[sb.ID()] = sb
	m.mu.Unlock()
}
