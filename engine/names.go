package engine

import "strings"

// exportName converts a kebab-case WIT name to the snake_case name a C
// toolchain exports it under.
// Examples:
//   - "process-audio" -> "process_audio"
//   - "malloc" -> "malloc"
func exportName(witName string) string {
	return strings.ReplaceAll(witName, "-", "_")
}
