package filesystem

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// Write creates the parent directories of p and writes content. The returned
// path is the cleaned project-relative path; ok is false when nothing was written.
func Write(ctx context.Context, sb sandbox.Sandbox, workingDir, p, content string) (text, rel string, ok bool) {
	rel, full, err := Resolve(workingDir, p)
	if err != nil {
		return "Error: " + err.Error(), "", false
	}
	if rel == "." {
		return "Error: filePath must name a file", "", false
	}

	if parent := path.Dir(rel); parent != "." {
		res, err := sb.Exec(ctx, sandbox.ExecRequest{Command: []string{"mkdir", "-p", parent}, Dir: workingDir, Timeout: listTimeout})
		if err != nil {
			return fmt.Sprintf("Error creating directory %s: %v", parent, err), rel, false
		}
		if res.Code != 0 {
			return fmt.Sprintf("Error creating directory %s: %s", parent, strings.TrimSpace(res.Combined())), rel, false
		}
	}

	if err := sandbox.WriteFile(ctx, sb, full, []byte(content)); err != nil {
		return fmt.Sprintf("Error writing %s: %v", rel, err), rel, false
	}

	lines := strings.Count(content, "\n") + 1
	return fmt.Sprintf("Wrote %s (%d lines, %d bytes)", rel, lines, len(content)), rel, true
}
