package bigdbm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Standard-Labs/real-intent/internal/redact"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HTTPError is a sanitized summary of a non-2xx BigDBM response.
//
// Raw bodies are never kept: data API responses carry PII.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	Message    string

	// Snippet is a redacted, truncated hint for responses without a JSON
	// error envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "bigdbm http error"
	}
	parts := []string{
		fmt.Sprintf("bigdbm api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

// Retryable reports whether the failure may succeed on a second attempt.
func (e *HTTPError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode >= 500
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	var env errorEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil {
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = strings.TrimSpace(env.Error)
		}
		if msg != "" {
			h.Message = redact.Secrets(msg)
			return h
		}
	}

	h.Snippet = redact.Snippet(body, 256)
	return h
}
