// Package redact strips credentials from strings before they reach logs or
// error messages.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"'&]+`)

	// key=value and "key": "value" forms that leak through query strings,
	// form bodies and upstream error payloads.
	secretKVRe = regexp.MustCompile(`(?i)"?\b(api[_-]?key|access[_-]?key|access[_-]?token|client[_-]?secret|api|password)\b"?\s*[:=]\s*"?[^\s"'&,}]+"?`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
// It is safe to call on any message, including upstream response bodies.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := bearerTokenRe.ReplaceAllString(s, "Bearer <redacted>")
	out = secretKVRe.ReplaceAllString(out, "${1}=<redacted>")
	return strings.TrimSpace(out)
}

// Snippet returns a redacted single-line prefix of body, at most n bytes
// before redaction, with "..." appended when body was cut.
func Snippet(body []byte, n int) string {
	if len(body) == 0 {
		return ""
	}
	b := body
	if n > 0 && len(b) > n {
		b = b[:n]
	}
	s := Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(b) < len(body) {
		return s + "..."
	}
	return s
}
