package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

const (
	defaultBashTimeout = 120 * time.Second
	maxBashTimeout     = 600 * time.Second
	maxBashOutput      = 10_000
)

// BashTimeout converts the planner's timeout in seconds into a bounded duration.
func BashTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultBashTimeout
	}
	timeout := time.Duration(seconds) * time.Second
	if timeout > maxBashTimeout {
		return maxBashTimeout
	}
	return timeout
}

// Bash runs command through sh -lc in workingDir and reports its exit code
// and combined output. Failures are result text.
func Bash(ctx context.Context, sb sandbox.Sandbox, workingDir, command string, timeoutSeconds int) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return "Error: command must not be empty"
	}
	timeout := BashTimeout(timeoutSeconds)

	res, err := sb.Exec(ctx, sandbox.Shell(command, workingDir, timeout))
	if err != nil {
		return fmt.Sprintf("Error running command: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", command)
	output, truncated := truncateOutput(res.Combined(), maxBashOutput)
	if output == "" {
		b.WriteString("(no output)\n")
	} else {
		b.WriteString(output)
		if !strings.HasSuffix(output, "\n") {
			b.WriteByte('\n')
		}
	}
	if truncated {
		fmt.Fprintf(&b, "[output truncated to %d bytes]\n", maxBashOutput)
	}
	if res.TimedOut {
		fmt.Fprintf(&b, "[timed out after %s]\n", timeout)
	}
	fmt.Fprintf(&b, "[exit code: %d]", res.Code)
	return b.String()
}
