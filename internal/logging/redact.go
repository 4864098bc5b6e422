package logging

import "regexp"

// Patterns for credentials that must never reach the log stream. The
// gateway logs request URLs and error bodies; session tokens ride in
// both under proxies that echo headers back.
var secretPatterns = []*regexp.Regexp{
	// Bearer tokens and raw JWTs.
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{10,}\.[a-zA-Z0-9._-]{10,}`),
	// key=... query parameters and "token": "..." JSON fields.
	regexp.MustCompile(`(?i)(key|token|secret|password|auth)["']?\s*[=:]\s*["']?([a-zA-Z0-9+/=_-]{20,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces credential-looking substrings in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}
