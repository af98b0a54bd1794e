package filesystem

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

const (
	listTimeout = 30 * time.Second
	listLimit   = 500
)

// DefaultIgnorePatterns hides dependency and build output from list_files.
var DefaultIgnorePatterns = []string{
	".git",
	"node_modules",
	".expo",
	".expo-shared",
	"dist",
	"web-build",
	".next",
	".turbo",
	".cache",
	".DS_Store",
	"*.log",
}

// NewMatcher compiles gitignore-style patterns. Nil patterns use the defaults.
func NewMatcher(patterns []string) *gitignore.GitIgnore {
	if patterns == nil {
		patterns = DefaultIgnorePatterns
	}
	return gitignore.CompileIgnoreLines(patterns...)
}

// List enumerates one level of dir inside the sandbox and classifies the
// entries. Failures are returned as result text.
func List(ctx context.Context, sb sandbox.Sandbox, workingDir, dir string, matcher *gitignore.GitIgnore) string {
	rel, _, err := Resolve(workingDir, dir)
	if err != nil {
		return "Error: " + err.Error()
	}
	display := rel
	if display == "." {
		display = "project root"
	}

	check, err := sb.Exec(ctx, sandbox.ExecRequest{Command: []string{"test", "-d", rel}, Dir: workingDir, Timeout: listTimeout})
	if err != nil {
		return fmt.Sprintf("Error listing %s: %v", display, err)
	}
	if check.Code != 0 {
		return fmt.Sprintf("Error: %s does not exist or is not a directory", display)
	}

	res, err := sb.Exec(ctx, sandbox.ExecRequest{Command: []string{"ls", "-1Ap", rel}, Dir: workingDir, Timeout: listTimeout})
	if err != nil {
		return fmt.Sprintf("Error listing %s: %v", display, err)
	}
	if res.Code != 0 {
		return fmt.Sprintf("Error listing %s: %s", display, strings.TrimSpace(res.Stderr))
	}

	var dirs, files []string
	hidden := 0
	for _, line := range strings.Split(res.Stdout, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		isDir := strings.HasSuffix(name, "/")
		base := strings.TrimSuffix(name, "/")
		if matcher != nil && matcher.MatchesPath(path.Join(rel, base)) {
			hidden++
			continue
		}
		if isDir {
			dirs = append(dirs, base)
		} else {
			files = append(files, base)
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	if len(dirs)+len(files) == 0 {
		if hidden > 0 {
			return fmt.Sprintf("%s contains only ignored entries (%d hidden)", display, hidden)
		}
		return fmt.Sprintf("%s is empty", display)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:\n", display)
	n := 0
	for _, d := range dirs {
		if n == listLimit {
			break
		}
		fmt.Fprintf(&b, "[dir] %s/\n", d)
		n++
	}
	for _, f := range files {
		if n == listLimit {
			break
		}
		fmt.Fprintf(&b, "[file] %s\n", f)
		n++
	}
	if total := len(dirs) + len(files); total > n {
		fmt.Fprintf(&b, "... %d more entries not shown\n", total-n)
	}
	if hidden > 0 {
		fmt.Fprintf(&b, "(%d ignored entries hidden)\n", hidden)
	}
	return strings.TrimRight(b.String(), "\n")
}
