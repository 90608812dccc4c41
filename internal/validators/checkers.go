package validators

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Standard-Labs/real-intent/internal/redact"
	"github.com/Standard-Labs/real-intent/internal/worker"
	"github.com/Standard-Labs/real-intent/pkg/lead"
	"github.com/Standard-Labs/real-intent/pkg/lead/validate"
)

// EmailChecker reports whether an email address is deliverable.
type EmailChecker interface {
	CheckEmail(ctx context.Context, email string) (bool, error)
}

// PhoneChecker reports whether a 10 digit US number is valid.
type PhoneChecker interface {
	CheckPhone(ctx context.Context, number string) (bool, error)
}

// EmailDeliverability removes undeliverable emails from every lead. Leads
// are kept even when no email survives; follow it with HasEmail to drop
// them. Each distinct address is checked once, concurrently per opts.
//
// With worker.FailurePolicyFailFast the first failed lookup fails the
// validator. With worker.FailurePolicyPartialOutput an address whose lookup
// failed counts as undeliverable.
func EmailDeliverability(checker EmailChecker, opts worker.Options) validate.Validator {
	return validate.Func{
		ID: "email_deliverability",
		Fn: func(ctx context.Context, records []lead.Record) ([]lead.Record, error) {
			var emails []string
			for _, r := range records {
				emails = append(emails, r.Contact.Emails...)
			}
			valid, err := checkAll(ctx, emails, checker.CheckEmail, opts)
			if err != nil {
				return nil, errors.Wrap(err, "check emails")
			}
			out := make([]lead.Record, 0, len(records))
			for _, r := range records {
				r = r.Clone()
				r.Contact.Emails = keepValid(r.Contact.Emails, func(e string) bool { return valid[e] })
				out = append(out, r)
			}
			return out, nil
		},
	}
}

// PhoneValidity removes invalid phones from every lead. Numbers that do not
// normalize to 10 digits are dropped without a lookup. Failed lookups follow
// opts.FailurePolicy as in EmailDeliverability.
func PhoneValidity(checker PhoneChecker, opts worker.Options) validate.Validator {
	return validate.Func{
		ID: "phone_validity",
		Fn: func(ctx context.Context, records []lead.Record) ([]lead.Record, error) {
			var numbers []string
			for _, r := range records {
				for _, p := range r.Contact.MobilePhones {
					if n, ok := NormalizeUSPhone(p.Number); ok {
						numbers = append(numbers, n)
					}
				}
			}
			valid, err := checkAll(ctx, numbers, checker.CheckPhone, opts)
			if err != nil {
				return nil, errors.Wrap(err, "check phones")
			}
			out := make([]lead.Record, 0, len(records))
			for _, r := range records {
				r = r.Clone()
				r.Contact.MobilePhones = keepValid(r.Contact.MobilePhones, func(p lead.MobilePhone) bool {
					n, ok := NormalizeUSPhone(p.Number)
					return ok && valid[n]
				})
				out = append(out, r)
			}
			return out, nil
		},
	}
}

// NormalizeUSPhone strips a +1 or leading 1 country code and reports
// whether ten digits remain.
func NormalizeUSPhone(number string) (string, bool) {
	n := strings.TrimSpace(number)
	n = strings.TrimPrefix(n, "+1")
	if len(n) == 11 && n[0] == '1' {
		n = n[1:]
	}
	if len(n) != 10 {
		return "", false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return n, true
}

func checkAll(
	ctx context.Context,
	items []string,
	check func(context.Context, string) (bool, error),
	opts worker.Options,
) (map[string]bool, error) {
	seen := make(map[string]struct{}, len(items))
	distinct := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		distinct = append(distinct, it)
	}

	results, err := worker.ProcessAll(ctx, distinct, check, opts)
	if err != nil {
		return nil, err
	}
	valid := make(map[string]bool, len(results))
	for _, res := range results {
		if res.Err != nil {
			if opts.FailurePolicy == worker.FailurePolicyFailFast {
				return nil, res.Err
			}
			valid[res.Input] = false
			continue
		}
		valid[res.Input] = res.Output
	}
	return valid, nil
}

func keepValid[T any](in []T, ok func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if ok(v) {
			out = append(out, v)
		}
	}
	return out
}

const (
	DefaultMillionVerifierURL = "https://api.millionverifier.com"
	DefaultNumverifyURL       = "https://apilayer.net"
)

// MillionVerifier checks emails against the MillionVerifier v3 API. Only
// result code 1 (ok) counts as deliverable.
type MillionVerifier struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (m *MillionVerifier) CheckEmail(ctx context.Context, email string) (bool, error) {
	q := url.Values{}
	q.Set("api", m.APIKey)
	q.Set("email", email)
	q.Set("timeout", "10")

	var out struct {
		ResultCode *int `json:"resultcode"`
	}
	if err := getJSON(ctx, m.HTTP, "millionverifier", orDefault(m.BaseURL, DefaultMillionVerifierURL), "api/v3", q, &out); err != nil {
		return false, err
	}
	if out.ResultCode == nil {
		return false, errors.New("millionverifier: response missing resultcode")
	}
	return *out.ResultCode == 1, nil
}

// Numverify checks US phone numbers against the numverify API.
type Numverify struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func (n *Numverify) CheckPhone(ctx context.Context, number string) (bool, error) {
	q := url.Values{}
	q.Set("access_key", n.APIKey)
	q.Set("number", number)
	q.Set("country_code", "US")

	var out struct {
		Valid *bool `json:"valid"`
	}
	if err := getJSON(ctx, n.HTTP, "numverify", orDefault(n.BaseURL, DefaultNumverifyURL), "api/validate", q, &out); err != nil {
		return false, err
	}
	if out.Valid == nil {
		return false, errors.New("numverify: response missing valid")
	}
	return *out.Valid, nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

var defaultCheckerClient = &http.Client{Timeout: 30 * time.Second}

// getJSON issues a GET and decodes the JSON body. Transport failures, 429s
// and 5xx responses come back as worker.TransientError. Error text is
// redacted because the query string carries the API key.
func getJSON(ctx context.Context, hc *http.Client, service, base, path string, q url.Values, out any) error {
	if hc == nil {
		hc = defaultCheckerClient
	}
	u := strings.TrimRight(base, "/") + "/" + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Newf("%s: build request: %s", service, redact.Secrets(err.Error()))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &worker.TransientError{Err: errors.Newf("%s: %s", service, redact.Secrets(err.Error()))}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &worker.TransientError{Err: errors.Wrapf(err, "%s: read response", service)}
	}
	if resp.StatusCode/100 != 2 {
		herr := errors.Newf("%s: status=%s body=%s", service, resp.Status, redact.Snippet(b, 256))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &worker.TransientError{Err: herr}
		case resp.StatusCode >= 500:
			// Outages outlast the backoff window; one extra attempt at most.
			return &worker.LimitedTransientError{Err: herr, ExtraRetries: 1}
		}
		return herr
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "%s: parse response", service)
	}
	return nil
}
