// Package config loads pulse configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables. Command-line flags are applied last by the
// commands that define them.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/pithecene-io/pulse/status"
	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/store/resolve"
	"github.com/pithecene-io/pulse/types"
)

// DefaultListen is the status server address.
const DefaultListen = ":8080"

// Config is the full pulse configuration.
type Config struct {
	Listen   string       `yaml:"listen" env:"LISTEN_ADDR"`
	LogLevel string       `yaml:"log_level" env:"LOG_LEVEL"`
	Cache    CacheConfig  `yaml:"cache"`
	Job      JobConfig    `yaml:"job"`
	Store    StoreConfig  `yaml:"store"`
	GitHub   GitHubConfig `yaml:"github"`
	Notify   NotifyConfig `yaml:"notify"`
	Client   ClientConfig `yaml:"client"`
}

// CacheConfig holds per-feed cache windows.
type CacheConfig struct {
	MetricsTTL            Duration `yaml:"metrics_ttl" env:"METRICS_TTL_MS"`
	MetricsStale          Duration `yaml:"metrics_stale" env:"METRICS_STALE_MS"`
	AccountTTL            Duration `yaml:"account_ttl" env:"ACCOUNT_TTL_MS"`
	AccountStale          Duration `yaml:"account_stale" env:"ACCOUNT_STALE_MS"`
	ManualRefreshCooldown Duration `yaml:"manual_refresh_cooldown" env:"MANUAL_REFRESH_COOLDOWN_MS"`
}

// JobConfig holds update job settings. LockStale is shared by the job and
// the status endpoints.
type JobConfig struct {
	RetentionDays int      `yaml:"retention_days" env:"RETENTION_DAYS"`
	MinInterval   Duration `yaml:"min_interval" env:"MIN_INTERVAL_MS"`
	LockStale     Duration `yaml:"lock_stale" env:"LOCK_STALE_MS"`
	// Schedule is a cron expression for `pulse serve`. Empty disables
	// scheduled runs.
	Schedule string `yaml:"schedule" env:"UPDATE_SCHEDULE"`
}

// StoreConfig selects the metrics store backend.
type StoreConfig struct {
	Adapter     string   `yaml:"adapter" env:"STORE_ADAPTER"`
	Path        string   `yaml:"path" env:"STORE_PATH"`
	SQLDSN      string   `yaml:"sql_dsn" env:"SQL_DSN"`
	RedisURL    string   `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix string   `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	S3          S3Config `yaml:"s3"`
}

// S3Config holds object store settings.
type S3Config struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	Prefix    string `yaml:"prefix" env:"S3_PREFIX"`
	Region    string `yaml:"region" env:"S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	PathStyle bool   `yaml:"path_style" env:"S3_PATH_STYLE"`
}

// GitHubConfig holds provider credentials.
type GitHubConfig struct {
	Token             string  `yaml:"token" env:"GITHUB_TOKEN"`
	User              string  `yaml:"user" env:"GITHUB_USER"`
	APIURL            string  `yaml:"api_url" env:"GITHUB_API_URL"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"GITHUB_RPS"`
}

// NotifyConfig configures the job completion notifier.
type NotifyConfig struct {
	Type    string            `yaml:"type" env:"NOTIFY_TYPE"`
	URL     string            `yaml:"url" env:"NOTIFY_URL"`
	Channel string            `yaml:"channel,omitempty" env:"NOTIFY_CHANNEL"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`

	// Secret signs webhook bodies.
	Secret string `yaml:"secret,omitempty" env:"NOTIFY_SECRET"`
	// HistoryKey and HistoryLen keep recent events in a Redis list.
	HistoryKey string `yaml:"history_key,omitempty" env:"NOTIFY_HISTORY_KEY"`
	HistoryLen int    `yaml:"history_len,omitempty"`
}

// ClientConfig configures the polling client used by `pulse watch`.
type ClientConfig struct {
	URL         string   `yaml:"url" env:"PULSE_URL"`
	CacheFile   string   `yaml:"cache_file" env:"PULSE_CACHE_FILE"`
	CacheMaxAge Duration `yaml:"cache_max_age" env:"PULSE_CACHE_MAX_AGE_MS"`
	BusyPoll    Duration `yaml:"busy_poll"`
	IdlePoll    Duration `yaml:"idle_poll"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		Cache: CacheConfig{
			MetricsTTL:            Duration{status.DefaultMetricsTTL},
			MetricsStale:          Duration{status.DefaultMetricsStale},
			AccountTTL:            Duration{status.DefaultAccountTTL},
			AccountStale:          Duration{status.DefaultAccountStale},
			ManualRefreshCooldown: Duration{status.DefaultManualCooldown},
		},
		Job: JobConfig{
			RetentionDays: 365,
			MinInterval:   Duration{6 * time.Hour},
			LockStale:     Duration{types.DefaultLockStaleAfter},
		},
		Store: StoreConfig{Path: resolve.DefaultPath},
		Client: ClientConfig{
			URL:         "http://localhost:8080",
			CacheMaxAge: Duration{24 * time.Hour},
			BusyPoll:    Duration{5 * time.Second},
			IdlePoll:    Duration{5 * time.Minute},
		},
	}
}

// StoreSettings converts the store section into resolver input.
func (c *Config) StoreSettings() store.Config {
	return store.Config{
		Adapter:     c.Store.Adapter,
		Path:        c.Store.Path,
		SQLDSN:      c.Store.SQLDSN,
		RedisURL:    c.Store.RedisURL,
		RedisPrefix: c.Store.RedisPrefix,
		S3: store.S3Config{
			Bucket:       c.Store.S3.Bucket,
			Prefix:       c.Store.S3.Prefix,
			Region:       c.Store.S3.Region,
			Endpoint:     c.Store.S3.Endpoint,
			UsePathStyle: c.Store.S3.PathStyle,
		},
		LockStaleAfter: c.Job.LockStale.Duration,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name      string
		d         Duration
		allowZero bool
	}{
		{"cache.metrics_ttl", c.Cache.MetricsTTL, false},
		{"cache.metrics_stale", c.Cache.MetricsStale, true},
		{"cache.account_ttl", c.Cache.AccountTTL, false},
		{"cache.account_stale", c.Cache.AccountStale, true},
		{"cache.manual_refresh_cooldown", c.Cache.ManualRefreshCooldown, true},
		{"job.min_interval", c.Job.MinInterval, false},
		{"job.lock_stale", c.Job.LockStale, false},
		{"client.busy_poll", c.Client.BusyPoll, false},
		{"client.idle_poll", c.Client.IdlePoll, false},
	} {
		switch {
		case f.d.Duration < 0:
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", f.name, f.d.Duration))
		case f.d.Duration == 0 && !f.allowZero:
			errs = append(errs, fmt.Errorf("%s must be positive", f.name))
		}
	}
	if c.Job.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("job.retention_days must be positive, got %d", c.Job.RetentionDays))
	}
	if c.Job.Schedule != "" {
		if _, err := cronexpr.Parse(c.Job.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job.schedule %q: %w", c.Job.Schedule, err))
		}
	}
	if err := validateAdapter(c.Store.Adapter); err != nil {
		errs = append(errs, err)
	}
	switch c.Notify.Type {
	case "":
	case "webhook", "redis":
		if c.Notify.URL == "" {
			errs = append(errs, fmt.Errorf("notify.url is required for %s notifier", c.Notify.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.type %q: must be webhook or redis", c.Notify.Type))
	}
	if c.Notify.Retries != nil && *c.Notify.Retries < 0 {
		errs = append(errs, fmt.Errorf("notify.retries must be >= 0, got %d", *c.Notify.Retries))
	}
	return errors.Join(errs...)
}

func validateAdapter(adapter string) error {
	switch adapter {
	case "", store.ModeFile, store.ModeSQL, store.ModeRedis, store.ModeS3, store.ModeMemory:
		return nil
	}
	if _, ok := store.ParseCustom(adapter); ok {
		return nil
	}
	return fmt.Errorf("store.adapter %q: must be file, sql, redis, s3, memory or %s<name>", adapter, store.CustomPrefix)
}

// Duration wraps time.Duration. It reads Go duration strings ("10s",
// "5m") or bare integers, which are milliseconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.v3 obsolete unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses environment values.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(ms) * time.Millisecond
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
