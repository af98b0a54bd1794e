package execution

import (
	"fmt"
	"unicode/utf8"
)

// truncateOutput keeps the head and tail of output within maxBytes. The tail
// usually carries the error, so both ends survive.
func truncateOutput(output string, maxBytes int) (string, bool) {
	if len(output) <= maxBytes {
		return output, false
	}
	marker := fmt.Sprintf("\n... %d bytes omitted ...\n", len(output)-maxBytes)
	keep := maxBytes - len(marker)
	if keep <= 0 {
		return output[:runeBoundary(output, maxBytes)], true
	}
	head := runeBoundary(output, keep/2)
	tailStart := len(output) - (keep - head)
	for tailStart < len(output) && !utf8.RuneStart(output[tailStart]) {
		tailStart++
	}
	return output[:head] + marker + output[tailStart:], true
}

// runeBoundary moves n back to the start of a rune.
func runeBoundary(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
