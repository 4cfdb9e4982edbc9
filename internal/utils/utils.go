package utils

import "strings"

// TruncateForLog shortens the provided string to the specified limit, appending an ellipsis when truncated.
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	return TruncateRunes(strings.TrimSpace(s), limit, "...")
}

// TruncateRunes cuts s to at most limit runes and appends suffix when anything
// was cut. A non-positive limit leaves s unchanged.
func TruncateRunes(s string, limit int, suffix string) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + suffix
}
