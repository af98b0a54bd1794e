package prompts

import (
	"strconv"
	"strings"
)

// Version identifies a revision of a variant's system prompt, e.g. "1.0.0".
type Version string

// V1 is the first revision of the build and ask prompts.
const V1 Version = "1.0.0"

// Prompt is one revision of the system prompt for an agent variant.
// Content may contain a {{working_dir}} placeholder.
type Prompt struct {
	Variant     string
	Version     Version
	Content     string
	Description string
	Deprecated  bool
}

// less orders versions by their dot-separated numeric parts. Non-numeric
// parts compare as strings.
func (v Version) less(o Version) bool {
	a, b := strings.Split(string(v), "."), strings.Split(string(o), ".")
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		x, errX := strconv.Atoi(a[i])
		y, errY := strconv.Atoi(b[i])
		if errX == nil && errY == nil {
			return x < y
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}
