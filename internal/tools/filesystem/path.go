package filesystem

import (
	"fmt"
	"path"
	"strings"
)

// Resolve cleans p relative to workingDir. It returns the path relative to the
// working directory (for commands run there) and the full sandbox path (for
// Open). Paths that climb out of the working directory are rejected.
func Resolve(workingDir, p string) (rel, full string, err error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	if path.IsAbs(p) && workingDir != "" {
		// Absolute paths must point inside the working directory.
		root := path.Clean(workingDir)
		cleaned := path.Clean(p)
		if cleaned != root && !strings.HasPrefix(cleaned, strings.TrimSuffix(root, "/")+"/") {
			return "", "", fmt.Errorf("path %s is outside the project directory", p)
		}
		p = strings.TrimPrefix(strings.TrimPrefix(cleaned, root), "/")
		if p == "" {
			p = "."
		}
	}

	rel = path.Clean(p)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", fmt.Errorf("path %s is outside the project directory", p)
	}
	if workingDir == "" {
		return rel, rel, nil
	}
	return rel, path.Join(workingDir, rel), nil
}
