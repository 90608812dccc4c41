// Package config loads leadfill settings from an optional YAML file and
// LEADFILL_* environment variables. Environment wins over the file; the file
// wins over built-in defaults.
package config

import (
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Standard-Labs/real-intent/internal/bigdbm"
	"github.com/Standard-Labs/real-intent/internal/logging"
	"github.com/Standard-Labs/real-intent/internal/worker"
	"github.com/Standard-Labs/real-intent/pkg/lead/fill"
)

// EnvPrefix prefixes every environment override, e.g.
// LEADFILL_BIGDBM_CLIENT_ID for bigdbm.client_id.
const EnvPrefix = "LEADFILL"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	BigDBM  BigDBMConfig   `mapstructure:"bigdbm"`
	Fill    FillConfig     `mapstructure:"fill"`
	Checks  ChecksConfig   `mapstructure:"checks"`
	Redis   RedisConfig    `mapstructure:"redis"`
	Log     logging.Config `mapstructure:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

// BigDBMConfig holds upstream credentials and client tuning.
type BigDBMConfig struct {
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	AuthURL        string        `mapstructure:"auth_url"`
	IntentURL      string        `mapstructure:"intent_url"`
	DataURL        string        `mapstructure:"data_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PageWorkers    int           `mapstructure:"page_workers"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
}

type FillConfig struct {
	Multiplier float64 `mapstructure:"multiplier"`
}

// ChecksConfig configures the contact checkers. An empty API key leaves the
// matching checker unconfigured.
type ChecksConfig struct {
	MillionVerifierAPIKey string        `mapstructure:"millionverifier_api_key"`
	MillionVerifierURL    string        `mapstructure:"millionverifier_url"`
	NumverifyAPIKey       string        `mapstructure:"numverify_api_key"`
	NumverifyURL          string        `mapstructure:"numverify_url"`
	Workers               int           `mapstructure:"workers"`
	MaxRetries            int           `mapstructure:"max_retries"`
	RateLimitRPS          float64       `mapstructure:"rate_limit_rps"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	// FailurePolicy is fail_fast (a failed lookup aborts the run) or partial
	// (the contact point is dropped).
	FailurePolicy string `mapstructure:"failure_policy"`
}

// RedisConfig points at the do-not-sell suppression set. An empty URL
// disables it.
type RedisConfig struct {
	URL            string `mapstructure:"url"`
	SuppressionKey string `mapstructure:"suppression_key"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bigdbm.client_id", "")
	v.SetDefault("bigdbm.client_secret", "")
	v.SetDefault("bigdbm.auth_url", bigdbm.DefaultAuthURL)
	v.SetDefault("bigdbm.intent_url", bigdbm.DefaultIntentURL)
	v.SetDefault("bigdbm.data_url", bigdbm.DefaultDataURL)
	v.SetDefault("bigdbm.poll_interval", 3*time.Second)
	v.SetDefault("bigdbm.page_workers", 30)
	v.SetDefault("bigdbm.rate_limit_rps", 0)
	v.SetDefault("bigdbm.request_timeout", 60*time.Second)
	v.SetDefault("bigdbm.retry_backoff", 10*time.Second)

	v.SetDefault("fill.multiplier", fill.DefaultMultiplier)

	v.SetDefault("checks.millionverifier_api_key", "")
	v.SetDefault("checks.millionverifier_url", "https://api.millionverifier.com")
	v.SetDefault("checks.numverify_api_key", "")
	v.SetDefault("checks.numverify_url", "https://apilayer.net")
	v.SetDefault("checks.workers", 10)
	v.SetDefault("checks.max_retries", 2)
	v.SetDefault("checks.rate_limit_rps", 0)
	v.SetDefault("checks.request_timeout", 30*time.Second)
	v.SetDefault("checks.failure_policy", "fail_fast")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.suppression_key", "leadfill:do_not_sell")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.addr", "")
}

// Load reads path (when non-empty) and the environment, then validates the
// result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with. Missing credentials are
// left to the components that need them.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, errors.Newf(format, args...).Error())
	}

	if m := c.Fill.Multiplier; math.IsNaN(m) || m <= 1 {
		add("fill.multiplier must be greater than 1, got %v", m)
	}
	if c.BigDBM.PollInterval <= 0 {
		add("bigdbm.poll_interval must be positive")
	}
	if c.BigDBM.PageWorkers <= 0 {
		add("bigdbm.page_workers must be positive")
	}
	if c.BigDBM.RateLimitRPS < 0 {
		add("bigdbm.rate_limit_rps must not be negative")
	}
	if c.Checks.Workers <= 0 {
		add("checks.workers must be positive")
	}
	if c.Checks.MaxRetries < 0 {
		add("checks.max_retries must not be negative")
	}
	if c.Checks.RateLimitRPS < 0 {
		add("checks.rate_limit_rps must not be negative")
	}
	if _, err := worker.ParseFailurePolicy(c.Checks.FailurePolicy); err != nil {
		add("checks.failure_policy must be fail_fast or partial, got %q", c.Checks.FailurePolicy)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level %q is not a level", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "json" && f != "console" {
		add("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Redis.URL != "" {
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			add("redis.url: %s", err.Error())
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WithHint(
		errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; ")),
		"settings come from --config and LEADFILL_* environment variables",
	)
}

// ClientConfig maps the bigdbm section onto the client config.
func (c BigDBMConfig) ClientConfig(logger *zap.Logger) bigdbm.Config {
	return bigdbm.Config{
		ClientID:       c.ClientID,
		ClientSecret:   c.ClientSecret,
		AuthURL:        c.AuthURL,
		IntentURL:      c.IntentURL,
		DataURL:        c.DataURL,
		PollInterval:   c.PollInterval,
		PageWorkers:    c.PageWorkers,
		RateLimitRPS:   c.RateLimitRPS,
		RequestTimeout: c.RequestTimeout,
		RetryBackoff:   c.RetryBackoff,
		Logger:         logger,
	}
}

// WorkerOptions maps the checks section onto the worker pool options. An
// unparseable failure policy falls back to fail_fast; Validate reports it.
func (c ChecksConfig) WorkerOptions() worker.Options {
	policy, err := worker.ParseFailurePolicy(c.FailurePolicy)
	if err != nil {
		policy = worker.FailurePolicyFailFast
	}
	return worker.Options{
		FailurePolicy:     policy,
		Workers:           c.Workers,
		MaxRetries:        c.MaxRetries,
		RequestTimeout:    c.RequestTimeout,
		RateLimitRPS:      c.RateLimitRPS,
		BackoffInitial:    500 * time.Millisecond,
		BackoffMax:        10 * time.Second,
		BackoffJitterFrac: 0.2,
	}
}

// Client opens a Redis client, or returns nil when no URL is set.
func (c RedisConfig) Client() (*redis.Client, error) {
	if strings.TrimSpace(c.URL) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis.url")
	}
	return redis.NewClient(opts), nil
}
