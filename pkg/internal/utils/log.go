// Package utils holds small domain-agnostic helpers shared by both
// binaries. SanitizeForLog is used by the server's request handler and
// the load balancer's connection logging to neutralize untrusted
// request paths and remote addresses before they reach logrus.
package utils

import (
	"strings"
	"unicode"
)

// maxSanitizedLength caps how much of an untrusted string ever reaches
// the log, so a single oversized request path can't blow up log
// volume.
const maxSanitizedLength = 100

// SanitizeForLog escapes newline, carriage return, tab and backslash in
// s and replaces every other control or non-printable character with
// '?', so s cannot forge extra log lines or terminal escape sequences,
// then truncates the result to maxSanitizedLength.
func SanitizeForLog(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteString(sanitizeRune(r))
	}

	out := b.String()
	if len(out) > maxSanitizedLength {
		return out[:maxSanitizedLength] + "...[truncated]"
	}
	return out
}

// sanitizeRune renders one rune as it should appear in a log line.
func sanitizeRune(r rune) string {
	switch r {
	case '\n':
		return "\\n"
	case '\r':
		return "\\r"
	case '\t':
		return "\\t"
	case '\\':
		return "\\\\"
	}

	switch {
	case unicode.IsControl(r):
		return "?"
	case unicode.IsPrint(r):
		return string(r)
	default:
		return "?"
	}
}
