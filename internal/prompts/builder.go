package prompts

import "strings"

const workingDirPlaceholder = "{{working_dir}}"

// Render returns the system prompt of variant at version (empty = newest)
// with the working directory filled in.
func Render(variant string, version Version, workingDir string) (string, error) {
	p, err := DefaultRegistry().Lookup(variant, version)
	if err != nil {
		return "", err
	}
	return Expand(p.Content, workingDir), nil
}

// Expand fills the {{working_dir}} placeholder of content.
func Expand(content, workingDir string) string {
	if workingDir == "" {
		workingDir = "the project root"
	}
	return strings.ReplaceAll(content, workingDirPlaceholder, workingDir)
}
