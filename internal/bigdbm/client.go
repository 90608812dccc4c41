// Package bigdbm is a client for the BigDBM intent and data APIs: OAuth
// client-credentials auth, asynchronous intent lists, paged results and
// contact lookup by hashed email.
package bigdbm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Standard-Labs/real-intent/internal/redact"
)

const (
	DefaultAuthURL   = "https://aws-prod-auth-service.bigdbm.com"
	DefaultIntentURL = "https://aws-prod-intent-api.bigdbm.com"
	DefaultDataURL   = "https://aws-prod-dataapi-v09.bigdbm.com"

	// OutputContact is the data API output layout the contact mapping reads.
	OutputContact = 10026
)

// Config configures a Client. Zero durations and counts take defaults.
type Config struct {
	ClientID     string
	ClientSecret string

	AuthURL   string
	IntentURL string
	DataURL   string

	// PollInterval is the sleep between list status checks.
	PollInterval time.Duration
	// PageWorkers bounds concurrent result page fetches.
	PageWorkers int
	// RateLimitRPS limits all requests. Set to <=0 to disable.
	RateLimitRPS float64
	// RequestTimeout bounds one HTTP exchange.
	RequestTimeout time.Duration
	// RetryBackoff is the wait before the single retry of a failed request.
	RetryBackoff time.Duration
	OutputID     int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.AuthURL) == "" {
		c.AuthURL = DefaultAuthURL
	}
	if strings.TrimSpace(c.IntentURL) == "" {
		c.IntentURL = DefaultIntentURL
	}
	if strings.TrimSpace(c.DataURL) == "" {
		c.DataURL = DefaultDataURL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.PageWorkers <= 0 {
		c.PageWorkers = 30
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Second
	}
	if c.OutputID == 0 {
		c.OutputID = OutputContact
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Client is safe for concurrent use.
type Client struct {
	cfg       Config
	authURL   *url.URL
	intentURL *url.URL
	dataURL   *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	log       *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient validates cfg. No request is made until the first call.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.WithHint(
			errors.New("bigdbm client id and secret are required"),
			"set bigdbm.client_id and bigdbm.client_secret or LEADFILL_BIGDBM_CLIENT_ID / LEADFILL_BIGDBM_CLIENT_SECRET",
		)
	}
	authURL, err := parseBaseURL(cfg.AuthURL, "auth")
	if err != nil {
		return nil, err
	}
	intentURL, err := parseBaseURL(cfg.IntentURL, "intent")
	if err != nil {
		return nil, err
	}
	dataURL, err := parseBaseURL(cfg.DataURL, "data")
	if err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.RequestTimeout}
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return &Client{
		cfg:       cfg,
		authURL:   authURL,
		intentURL: intentURL,
		dataURL:   dataURL,
		http:      hc,
		limiter:   limiter,
		log:       cfg.Logger,
	}, nil
}

func parseBaseURL(raw, name string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s base URL", name)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("%s base URL must include a host (got %q)", name, raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func resolve(base *url.URL, p string) *url.URL {
	return base.ResolveReference(&url.URL{Path: strings.TrimLeft(p, "/")})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached token, refreshing it when missing or within
// ten seconds of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolve(c.authURL, "oauth2/token").String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "request access token")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", newHTTPError("token", resp, b)
	}
	var tr tokenResponse
	if err := json.Unmarshal(b, &tr); err != nil {
		return "", errors.Wrap(err, "parse token response")
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return "", errors.New("token response missing access_token")
	}
	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - 10*time.Second)
	c.log.Debug("refreshed bigdbm access token", zap.Int("expires_in", tr.ExpiresIn))
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// do sends one authorized JSON request and decodes the response into out.
// A failed attempt is retried once after RetryBackoff when the failure is
// a network error, a 401, a 429 or a 5xx.
func (c *Client) do(ctx context.Context, op, method string, u *url.URL, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s: encode request", op)
		}
		payload = b
	}

	err := c.attempt(ctx, op, method, u, payload, out)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return err
	}

	var he *HTTPError
	if errors.As(err, &he) && he.StatusCode == http.StatusUnauthorized {
		c.dropToken()
	}
	c.log.Warn("bigdbm request failed, retrying once",
		zap.String("op", op),
		zap.Duration("backoff", c.cfg.RetryBackoff),
		zap.String("error", redact.Secrets(err.Error())),
	)
	t := time.NewTimer(c.cfg.RetryBackoff)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
	return c.attempt(ctx, op, method, u, payload, out)
}

func (c *Client) attempt(ctx context.Context, op, method string, u *url.URL, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, op)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "%s: read response", op)
	}
	if resp.StatusCode/100 != 2 {
		return newHTTPError(op, resp, b)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "%s: parse response", op)
	}
	return nil
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
