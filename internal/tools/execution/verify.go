package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

const (
	maxVerifyOutput  = 2_000
	defaultTailLines = 50
	maxTailLines     = 500
	tailTimeout      = 15 * time.Second
)

// Verify runs the post-write check (formatter or linter) in workingDir. It is
// best-effort: an empty command returns "", and failures are described in the
// returned text without failing the write.
func Verify(ctx context.Context, sb sandbox.Sandbox, workingDir, command string, timeout time.Duration) string {
	command = strings.TrimSpace(command)
	if command == "" {
		return ""
	}
	res, err := sb.Exec(ctx, sandbox.Shell(command, workingDir, timeout))
	if err != nil {
		return fmt.Sprintf("Verification skipped: %v", err)
	}
	if res.TimedOut {
		return fmt.Sprintf("Verification (%s) timed out after %s", command, timeout)
	}

	output, _ := truncateOutput(strings.TrimSpace(res.Combined()), maxVerifyOutput)
	if res.Code == 0 {
		if output == "" {
			return fmt.Sprintf("Verification (%s) passed", command)
		}
		return fmt.Sprintf("Verification (%s) passed:\n%s", command, output)
	}
	return fmt.Sprintf("Verification (%s) reported issues (exit code %d):\n%s", command, res.Code, output)
}

// TailLines bounds the number of log lines requested by verify_server.
func TailLines(n int) int {
	if n <= 0 {
		return defaultTailLines
	}
	if n > maxTailLines {
		return maxTailLines
	}
	return n
}

// TailLog returns the last lines of the dev server log verbatim.
func TailLog(ctx context.Context, sb sandbox.Sandbox, logPath string, lines int) string {
	lines = TailLines(lines)
	res, err := sb.Exec(ctx, sandbox.ExecRequest{
		Command: []string{"tail", "-n", strconv.Itoa(lines), logPath},
		Timeout: tailTimeout,
	})
	if err != nil {
		return fmt.Sprintf("Error reading server log %s: %v", logPath, err)
	}
	if res.Code != 0 {
		return fmt.Sprintf("Error reading server log %s: %s", logPath, strings.TrimSpace(res.Combined()))
	}
	if strings.TrimSpace(res.Stdout) == "" {
		return fmt.Sprintf("Server log %s is empty", logPath)
	}
	return res.Stdout
}
