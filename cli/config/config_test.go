package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/pulse/store"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("PULSE_TEST_TOKEN", "ghp_secret")
	path := writeTemp(t, `listen: ":9090"
log_level: debug

cache:
  metrics_ttl: 30s
  metrics_stale: 120000
  manual_refresh_cooldown: 1m

job:
  retention_days: 90
  min_interval: 2h
  schedule: "*/30 * * * *"

store:
  adapter: redis
  redis_url: redis://localhost:6379/0
  redis_prefix: dash

github:
  token: ${PULSE_TEST_TOKEN}
  user: octo

notify:
  type: webhook
  url: https://hooks.example.com/pulse
  headers:
    Authorization: Bearer token123
  timeout: 10s
  retries: 2
  secret: hush
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("top level = %q %q", cfg.Listen, cfg.LogLevel)
	}
	if cfg.Cache.MetricsTTL.Duration != 30*time.Second {
		t.Errorf("metrics_ttl = %v", cfg.Cache.MetricsTTL)
	}
	if cfg.Cache.MetricsStale.Duration != 2*time.Minute {
		t.Errorf("metrics_stale (ms) = %v", cfg.Cache.MetricsStale)
	}
	if cfg.Cache.AccountTTL != Default().Cache.AccountTTL {
		t.Errorf("unset account_ttl should keep default, got %v", cfg.Cache.AccountTTL)
	}
	if cfg.Job.RetentionDays != 90 || cfg.Job.MinInterval.Duration != 2*time.Hour {
		t.Errorf("job = %+v", cfg.Job)
	}
	if cfg.GitHub.Token != "ghp_secret" || cfg.GitHub.User != "octo" {
		t.Errorf("github = %+v", cfg.GitHub)
	}
	if cfg.Notify.Retries == nil || *cfg.Notify.Retries != 2 || cfg.Notify.Headers["Authorization"] != "Bearer token123" || cfg.Notify.Secret != "hush" {
		t.Errorf("notify = %+v", cfg.Notify)
	}

	sc := cfg.StoreSettings()
	if sc.Mode() != store.ModeRedis || sc.RedisPrefix != "dash" || sc.LockStaleAfter != 4*time.Hour {
		t.Errorf("store settings = %+v", sc)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen != DefaultListen || cfg.Job.RetentionDays != 365 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("/nonexistent/pulse.yaml"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file err = %v", err)
	}
	if _, err := Load(writeTemp(t, "{{invalid yaml")); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := Load(writeTemp(t, "cache:\n  metrics_ttl: soon\n")); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	path := writeTemp(t, "store:\n  adapter: file\n  path: /var/lib/pulse\n")
	t.Setenv("STORE_ADAPTER", "sql")
	t.Setenv("SQL_DSN", "/tmp/pulse.db")
	t.Setenv("LOCK_STALE_MS", "7200000")
	t.Setenv("METRICS_TTL_MS", "15000")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("RETENTION_DAYS", "30")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Store.Adapter != "sql" || cfg.Store.SQLDSN != "/tmp/pulse.db" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.Path != "/var/lib/pulse" {
		t.Errorf("file value lost: path = %q", cfg.Store.Path)
	}
	if cfg.Job.LockStale.Duration != 2*time.Hour || cfg.Cache.MetricsTTL.Duration != 15*time.Second {
		t.Errorf("durations = %v %v", cfg.Job.LockStale, cfg.Cache.MetricsTTL)
	}
	if !cfg.Store.S3.PathStyle || cfg.Job.RetentionDays != 30 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestResolve_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Store.Path != Default().Store.Path {
		t.Errorf("path = %q", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero ttl", func(c *Config) { c.Cache.MetricsTTL.Duration = 0 }, "cache.metrics_ttl must be positive"},
		{"negative stale", func(c *Config) { c.Cache.AccountStale.Duration = -time.Second }, "cache.account_stale must not be negative"},
		{"zero stale allowed", func(c *Config) { c.Cache.MetricsStale.Duration = 0 }, ""},
		{"retention", func(c *Config) { c.Job.RetentionDays = 0 }, "retention_days"},
		{"bad schedule", func(c *Config) { c.Job.Schedule = "every tuesday" }, "job.schedule"},
		{"good schedule", func(c *Config) { c.Job.Schedule = "0 */6 * * *" }, ""},
		{"unknown adapter", func(c *Config) { c.Store.Adapter = "mongo" }, "store.adapter"},
		{"custom adapter", func(c *Config) { c.Store.Adapter = "custom:vault" }, ""},
		{"notify without url", func(c *Config) { c.Notify.Type = "redis" }, "notify.url"},
		{"notify unknown", func(c *Config) { c.Notify.Type = "sns"; c.Notify.URL = "x" }, "notify.type"},
		{"negative retries", func(c *Config) { c.Notify.Retries = &neg }, "notify.retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_Text(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"14400000", 4 * time.Hour},
		{"90s", 90 * time.Second},
		{" 250 ", 250 * time.Millisecond},
		{"", 0},
	}
	for _, tt := range tests {
		var d Duration
		if err := d.UnmarshalText([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalText(%q): %v", tt.in, err)
			continue
		}
		if d.Duration != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, d.Duration, tt.want)
		}
	}
	out, _ := Duration{time.Minute}.MarshalText()
	if string(out) != "1m0s" {
		t.Errorf("MarshalText = %q", out)
	}
}
