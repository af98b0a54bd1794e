package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

// maxReadBytes bounds how much of a single file is returned to the planner.
const maxReadBytes = 100_000

// Read returns the file content prefixed with its path. Binary files and
// failures are reported as result text.
func Read(ctx context.Context, sb sandbox.Sandbox, workingDir, p string) string {
	rel, full, err := Resolve(workingDir, p)
	if err != nil {
		return "Error: " + err.Error()
	}
	data, err := sandbox.ReadFile(ctx, sb, full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Sprintf("Error: file %s does not exist", rel)
		}
		return fmt.Sprintf("Error reading %s: %v", rel, err)
	}
	return formatContent(rel, data)
}

func formatContent(rel string, data []byte) string {
	if !utf8.Valid(data) {
		return fmt.Sprintf("File: %s\n(binary file, %d bytes, not shown)", rel, len(data))
	}
	if len(data) == 0 {
		return fmt.Sprintf("File: %s\n(empty file)", rel)
	}

	content := string(data)
	note := ""
	if len(content) > maxReadBytes {
		cut := maxReadBytes
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		note = fmt.Sprintf("\n... truncated: showing the first %d of %d bytes", cut, len(content))
		content = content[:cut]
	}
	lines := strings.Count(content, "\n") + 1
	return fmt.Sprintf("File: %s (%d lines)\n%s%s", rel, lines, content, note)
}
