package handoff

import (
	"fmt"
	"math"
	"strings"
)

// charsPerToken mirrors the teacher's agent/context.go heuristic: a cheap,
// deterministic approximation good enough for budgeting, not billing.
const charsPerToken = 4

// estimateTokens approximates a text's token count.
func estimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / charsPerToken))
}

// truncateToTokens cuts text to fit maxTokens, appending a truncation marker
// when it actually had to cut. maxTokens <= 0 yields "".
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := charsPerToken * maxTokens
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "\n...[truncated]"
}

// truncateLines keeps the first maxLines lines of text, appending a count of
// how many more were dropped.
func truncateLines(text string, maxLines int) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	kept := lines[:maxLines]
	return strings.Join(kept, "\n") + fmt.Sprintf("\n...[%d more lines truncated]", len(lines)-maxLines)
}
