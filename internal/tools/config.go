package tools

import "time"

const (
	defaultVerifyCommand = "npx --no-install prettier --check ."
	defaultVerifyTimeout = 60 * time.Second
	defaultServerLogPath = "/tmp/expo.log"
)

// Config tunes the tool executor.
type Config struct {
	// VerifyCommand runs after write_file and edit_file. Empty disables it.
	VerifyCommand string
	VerifyTimeout time.Duration
	// ServerLogPath is the dev server log tailed by verify_server.
	ServerLogPath string
	// IgnorePatterns hide entries from list_files. Nil uses the defaults.
	IgnorePatterns []string
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		VerifyCommand: defaultVerifyCommand,
		VerifyTimeout: defaultVerifyTimeout,
		ServerLogPath: defaultServerLogPath,
	}
}
