package engine

import "log/slog"

// DefaultHooks returns default hooks for an agent.
func DefaultHooks() Hooks {
	return Hooks{
		LoggerHook{L: slog.Default()},
	}
}
