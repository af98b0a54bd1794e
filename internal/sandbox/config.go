package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Mode represents the sandbox execution mode.
type Mode string

const (
	// ModeDocker runs every project in a long-lived Docker container.
	ModeDocker Mode = "docker"
	// ModeHost runs commands directly on the host under a root directory (no isolation).
	ModeHost Mode = "host"
	// ModeAuto selects Docker if available, otherwise falls back to host.
	ModeAuto Mode = "auto"
)

const (
	defaultCmdTimeout = 2 * time.Minute
	defaultImage      = "node:20-slim"
	defaultWorkdir    = "/workspace"
	defaultPort       = 19006
)

// Config holds configuration for sandbox execution.
type Config struct {
	Mode       Mode
	Image      string        // Docker image for new sandboxes
	CPU        string        // CPU limit (e.g., "2")
	Memory     string        // Memory limit (e.g., "1g")
	CmdTimeout time.Duration // Default command timeout (0 = use default)
	Workdir    string        // Project directory inside a container
	Port       int           // Dev server port exposed by containers
	HostRoot   string        // Base directory for host sandboxes
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeAuto,
		Image:      defaultImage,
		CPU:        "2",
		Memory:     "1g",
		CmdTimeout: defaultCmdTimeout,
		Workdir:    defaultWorkdir,
		Port:       defaultPort,
		HostRoot:   "./sandboxes",
	}
}

// ParseMode normalises a mode string, defaulting to auto.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDocker:
		return ModeDocker
	case ModeHost:
		return ModeHost
	case ModeAuto, "":
		return ModeAuto
	default:
		slog.Warn("unknown sandbox mode, defaulting to auto", "mode", s)
		return ModeAuto
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Image == "" {
		c.Image = d.Image
	}
	if c.CPU == "" {
		c.CPU = d.CPU
	}
	if c.Memory == "" {
		c.Memory = d.Memory
	}
	if c.CmdTimeout <= 0 {
		c.CmdTimeout = d.CmdTimeout
	}
	if c.Workdir == "" {
		c.Workdir = d.Workdir
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.HostRoot == "" {
		c.HostRoot = d.HostRoot
	}
	return c
}

// IsDockerAvailable checks if Docker is available and accessible.
func IsDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "ps")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run() == nil
}

// ResolveMode turns ModeAuto into a concrete mode.
func ResolveMode(ctx context.Context, mode Mode) Mode {
	switch mode {
	case ModeDocker:
		if !IsDockerAvailable(ctx) {
			slog.Warn("docker mode requested but docker is not available, falling back to host sandboxes")
			return ModeHost
		}
		return ModeDocker
	case ModeHost:
		slog.Warn("using host sandboxes (no isolation); only use this for development")
		return ModeHost
	default:
		if IsDockerAvailable(ctx) {
			return ModeDocker
		}
		slog.Warn("docker not available, using host sandboxes (no isolation)")
		return ModeHost
	}
}

func effectiveTimeout(requested, fallback time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if fallback > 0 {
		return fallback
	}
	return defaultCmdTimeout
}

func validateCommand(req ExecRequest) error {
	if len(req.Command) == 0 || req.Command[0] == "" {
		return fmt.Errorf("exec: empty command")
	}
	return nil
}
