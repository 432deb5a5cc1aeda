package handoff

import (
	"path/filepath"
	"regexp"
	"strings"
)

// secretPatterns are applied left to right, one substitution pass each.
// KEY=/TOKEN=/SECRET=/PASSWORD= assignments and Bearer tokens are
// case-insensitive; AWS access key IDs and PEM blocks are not.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[A-Z0-9_]*(KEY|TOKEN|SECRET|PASSWORD)\s*=\s*\S+`),
	regexp.MustCompile(`(?i)\bBearer\s+\S+`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// redactReplacement returns the replacement text for a pattern match,
// preserving the "KEY="/"Bearer " prefix where one exists.
func redactReplacement(match string) string {
	switch {
	case strings.Contains(strings.ToUpper(match), "BEARER"):
		return "Bearer [REDACTED]"
	case strings.HasPrefix(match, "-----BEGIN"):
		return "[REDACTED PRIVATE KEY]"
	case strings.Contains(match, "="):
		key, _, _ := strings.Cut(match, "=")
		return key + "=[REDACTED]"
	default:
		return "[REDACTED]"
	}
}

// redact scrubs every secret pattern from text in a single left-to-right
// pass per rule. It never fails: unmatched input is returned unchanged.
func redact(text string) string {
	for _, pat := range secretPatterns {
		text = pat.ReplaceAllStringFunc(text, redactReplacement)
	}
	return text
}

// Redact exports the secret-scrubbing pass so callers outside this package
// (tool output, before it ever becomes session/conversation history) can
// apply the same redaction rules the handoff bundle applies at assembly
// time, instead of only scrubbing at the moment a handoff is built.
func Redact(text string) string {
	return redact(text)
}

// IsSensitivePath exports the sensitive-path predicate for callers outside
// this package that need to refuse reading a path outright (see
// tools.readTool), rather than only excluding it from a later file listing.
func IsSensitivePath(path string) bool {
	return isSensitivePath(path)
}

// normalize trims whitespace and redacts secrets. normalize never panics or
// errors; unrecognized input passes through unchanged.
func normalize(text string) string {
	return redact(strings.TrimSpace(text))
}

var sensitiveExactNames = map[string]bool{
	"auth.json":    true,
	"id_rsa":       true,
	"id_ed25519":   true,
}

// isSensitivePath reports whether path should be excluded from file listings
// and displayed as "[redacted]" when referenced in tool-call arguments.
func isSensitivePath(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return true
	}
	if sensitiveExactNames[base] {
		return true
	}
	for _, ext := range []string{".pem", ".key", ".p12"} {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	if strings.Contains(strings.ToLower(path), "credentials") {
		return true
	}
	return false
}

// redactPathForDisplay returns "[redacted]" for sensitive paths, the path
// unchanged otherwise.
func redactPathForDisplay(path string) string {
	if isSensitivePath(path) {
		return "[redacted]"
	}
	return path
}
