package imagegen

import "strings"

const overrideSeparator = "\n\nSpecific instructions for this image: "

// BuildInstruction combines the job-wide instruction with an optional
// per-image override.
func BuildInstruction(jobInstruction, override string) string {
	parts := []string{strings.TrimSpace(jobInstruction)}
	if extra := strings.TrimSpace(override); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, overrideSeparator)
}
