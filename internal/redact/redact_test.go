package redact_test

import (
	"strings"
	"testing"

	"github.com/Standard-Labs/real-intent/internal/redact"
)

func TestSecrets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		leak    string
		keepsIn string
	}{
		{name: "bearer", in: "Authorization: Bearer eyJhbGciOi.abc.def failed", leak: "eyJhbGciOi", keepsIn: "Bearer <redacted>"},
		{name: "query api", in: "GET /api/v3?api=mv-secret-1&email=a@b.com", leak: "mv-secret-1", keepsIn: "email=a@b.com"},
		{name: "access key", in: "GET /api/validate?access_key=nv-secret&number=1", leak: "nv-secret", keepsIn: "number=1"},
		{name: "form secret", in: "grant_type=client_credentials&client_secret=s3cr3t", leak: "s3cr3t", keepsIn: "grant_type=client_credentials"},
		{name: "json token", in: `{"access_token": "tok-123", "expires_in": 3600}`, leak: "tok-123", keepsIn: "expires_in"},
	}
	for _, tc := range cases {
		got := redact.Secrets(tc.in)
		if strings.Contains(got, tc.leak) {
			t.Fatalf("%s: secret leaked: %q", tc.name, got)
		}
		if !strings.Contains(got, tc.keepsIn) {
			t.Fatalf("%s: expected %q to survive in %q", tc.name, tc.keepsIn, got)
		}
	}
}

func TestSecrets_Empty(t *testing.T) {
	t.Parallel()

	if got := redact.Secrets(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestSnippet(t *testing.T) {
	t.Parallel()

	if got := redact.Snippet([]byte("line one\nline two"), 0); got != "line one line two" {
		t.Fatalf("unexpected snippet: %q", got)
	}
	if got := redact.Snippet([]byte(strings.Repeat("x", 300)), 256); got != strings.Repeat("x", 256)+"..." {
		t.Fatalf("unexpected truncated snippet length %d", len(got))
	}
	if got := redact.Snippet(nil, 10); got != "" {
		t.Fatalf("expected empty snippet, got %q", got)
	}
}
