package editing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"unicode/utf8"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
	"github.com/ChamsBouzaiene/dyno/internal/tools/filesystem"
)

// maxEditLines rejects replacements that should have been a write_file.
const maxEditLines = 500

// Replace applies an exact search/replace to content. Without replaceAll the
// search string must occur exactly once.
func Replace(content, oldString, newString string, replaceAll bool) (string, int, error) {
	if oldString == "" {
		return "", 0, errors.New("oldString must not be empty; use write_file to create a file")
	}
	if oldString == newString {
		return "", 0, errors.New("oldString and newString are identical. No changes to make")
	}
	if lines := strings.Count(oldString, "\n"); lines > maxEditLines {
		return "", 0, fmt.Errorf("oldString is %d lines (max %d). Use write_file to rewrite the file instead", lines, maxEditLines)
	}

	count := strings.Count(content, oldString)
	if count == 0 {
		hint := ""
		normalizedContent := strings.Join(strings.Fields(content), " ")
		normalizedOld := strings.Join(strings.Fields(oldString), " ")
		if normalizedOld != "" && strings.Contains(normalizedContent, normalizedOld) {
			hint = "\n  - Whitespace mismatch detected. The text exists but with different whitespace/indentation."
		}
		return "", 0, fmt.Errorf("oldString not found in file. Common causes:\n"+
			"  - Indentation mismatch (file uses %s)\n"+
			"  - The file changed since it was last read\n"+
			"Read the file again and copy the EXACT text%s", detectIndentation(content), hint)
	}

	if count > 1 && !replaceAll {
		return "", 0, fmt.Errorf("oldString appears %d times in the file%s. Include more surrounding context to make it unique, or set replaceAll to true",
			count, occurrenceLines(content, oldString))
	}

	if replaceAll {
		return strings.ReplaceAll(content, oldString, newString), count, nil
	}
	return strings.Replace(content, oldString, newString, 1), 1, nil
}

// Edit reads path, applies Replace, and writes the result back. The new
// content is returned when the edit was applied.
func Edit(ctx context.Context, sb sandbox.Sandbox, workingDir, path, oldString, newString string, replaceAll bool) (text, newContent string, ok bool) {
	rel, full, err := filesystem.Resolve(workingDir, path)
	if err != nil {
		return "Error: " + err.Error(), "", false
	}

	data, err := sandbox.ReadFile(ctx, sb, full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Sprintf("Error: file %s does not exist. Use write_file to create it.", rel), "", false
		}
		return fmt.Sprintf("Error reading %s: %v", rel, err), "", false
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("Error: %s is a binary file and cannot be edited", rel), "", false
	}

	updated, replacements, err := Replace(string(data), oldString, newString, replaceAll)
	if err != nil {
		return fmt.Sprintf("Error editing %s: %v", rel, err), "", false
	}

	if err := sandbox.WriteFile(ctx, sb, full, []byte(updated)); err != nil {
		return fmt.Sprintf("Error writing %s: %v", rel, err), "", false
	}

	noun := "replacement"
	if replacements != 1 {
		noun = "replacements"
	}
	return fmt.Sprintf("Edited %s (%d %s)", rel, replacements, noun), updated, true
}

func occurrenceLines(content, oldString string) string {
	firstLine := strings.TrimSpace(strings.SplitN(oldString, "\n", 2)[0])
	if firstLine == "" {
		return ""
	}
	var lineNums []int
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, firstLine) {
			lineNums = append(lineNums, i+1)
			if len(lineNums) == 5 {
				break
			}
		}
	}
	if len(lineNums) == 0 {
		return ""
	}
	return fmt.Sprintf(" (lines: %v)", lineNums)
}

func detectIndentation(content string) string {
	switch {
	case strings.Contains(content, "\n\t"):
		return "tabs"
	case strings.Contains(content, "\n    "):
		return "4 spaces"
	case strings.Contains(content, "\n  "):
		return "2 spaces"
	}
	return "no indentation"
}
