package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/pulse/cache"
	"github.com/pithecene-io/pulse/clock"
	"github.com/pithecene-io/pulse/job"
	"github.com/pithecene-io/pulse/metrics"
	"github.com/pithecene-io/pulse/provider"
	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *clock.Fake
	cache    *cache.Store
	store    *store.StubStore
	provider *provider.Stub
	metrics  *metrics.Collector
	server   *Server
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	clk := clock.NewFake(now)
	f := &fixture{
		clock:    clk,
		cache:    cache.New(clk),
		store:    store.NewStubStore(),
		provider: &provider.Stub{Account: &provider.Account{Login: "octo", PublicRepos: 7, RateRemain: 4999}},
		metrics:  metrics.NewCollector("stub", "stub"),
	}
	cfg := Config{
		Cache:          f.cache,
		Store:          f.store,
		Provider:       f.provider,
		Clock:          clk,
		Collector:      f.metrics,
		AccountTTL:     time.Minute,
		AccountStale:   10 * time.Minute,
		ManualCooldown: 30 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.server = s
	return f
}

func (f *fixture) do(t *testing.T, method, target string) map[string]any {
	t.Helper()
	req := httptest.NewRequestWithContext(t.Context(), method, target, nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s %s: status %d, want 200", method, target, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Store: store.NewStubStore()}); err == nil {
		t.Error("expected error without cache")
	}
	if _, err := New(Config{Cache: cache.New(nil)}); !errors.Is(err, store.ErrNilStore) {
		t.Errorf("err = %v, want ErrNilStore", err)
	}
}

func TestMetrics_EmptyStore(t *testing.T) {
	f := newFixture(t)
	body := f.do(t, http.MethodGet, PathMetrics)
	if body["totalRepos"] != float64(0) || body["inProgress"] != false {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Errorf("unexpected error field: %v", body["error"])
	}
}

func TestMetrics_InProgressFromLock(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(&types.MetricsHistory{User: "octo", GeneratedAt: now.Add(-time.Hour)},
		&types.Lock{StartedAt: now.Add(-time.Minute)})

	body := f.do(t, http.MethodGet, PathMetrics)
	if body["inProgress"] != true || body["user"] != "octo" {
		t.Errorf("body = %v", body)
	}
	if body["lockExpiresAt"] != now.Add(-time.Minute).Add(types.DefaultLockStaleAfter).Format(time.RFC3339) {
		t.Errorf("lockExpiresAt = %v", body["lockExpiresAt"])
	}
}

func TestMetrics_StoreFailureServesStale(t *testing.T) {
	f := newFixture(t)
	f.store.Seed(&types.MetricsHistory{User: "octo"}, nil)
	f.do(t, http.MethodGet, PathMetrics)

	f.store.GetHistoryErr = types.ErrPersistence
	f.clock.Advance(DefaultMetricsTTL + time.Second)
	body := f.do(t, http.MethodGet, PathMetrics)
	if body["stale"] != true || body["user"] != "octo" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Error("stale payload should not carry an error")
	}

	f.clock.Advance(DefaultMetricsStale)
	body = f.do(t, http.MethodGet, PathMetrics)
	if msg, _ := body["error"].(string); !strings.Contains(msg, "read history") {
		t.Errorf("error = %v", body["error"])
	}
}

func TestAccount_CachedWithinTTL(t *testing.T) {
	f := newFixture(t)
	first := f.do(t, http.MethodGet, PathAccount)
	second := f.do(t, http.MethodGet, PathAccount)

	if f.provider.ViewerCalls != 1 {
		t.Errorf("viewer calls = %d, want 1", f.provider.ViewerCalls)
	}
	if first["login"] != "octo" || first["provider"] != "stub" || first["publicRepos"] == nil {
		t.Errorf("first = %v", first)
	}
	if second["cachedAt"] != now.Format(time.RFC3339) {
		t.Errorf("cachedAt = %v", second["cachedAt"])
	}
}

func TestAccount_UpstreamFailureServesStale(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, PathAccount)

	f.provider.ViewerErr = &types.UpstreamError{Provider: "stub", Op: "viewer", StatusCode: 502}
	f.clock.Advance(2 * time.Minute)
	body := f.do(t, http.MethodGet, PathAccount)
	if body["stale"] != true || body["login"] != "octo" {
		t.Errorf("body = %v", body)
	}
	if f.metrics.Snapshot().CacheStaleServed != 1 {
		t.Errorf("stale served = %d", f.metrics.Snapshot().CacheStaleServed)
	}
}

func TestAccount_RateLimitStopsUpstreamCalls(t *testing.T) {
	f := newFixture(t)
	until := now.Add(10 * time.Minute)
	f.provider.ViewerErr = &types.RateLimitError{Provider: "stub", Until: until, Reason: "primary"}

	for range 3 {
		body := f.do(t, http.MethodGet, PathAccount)
		if body["rateLimitedUntil"] != until.Format(time.RFC3339) {
			t.Errorf("rateLimitedUntil = %v", body["rateLimitedUntil"])
		}
		if _, ok := body["error"]; !ok {
			t.Error("expected error without cached data")
		}
	}
	if f.provider.ViewerCalls != 1 {
		t.Errorf("viewer calls = %d, want 1", f.provider.ViewerCalls)
	}

	f.provider.ViewerErr = nil
	f.clock.Set(until)
	body := f.do(t, http.MethodGet, PathAccount)
	if body["login"] != "octo" {
		t.Errorf("after window body = %v", body)
	}
}

func TestAccount_ManualRefreshCooldown(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, PathAccount)

	f.do(t, http.MethodGet, PathAccount+"?refresh=1")
	if f.provider.ViewerCalls != 2 {
		t.Fatalf("viewer calls = %d, want 2 after accepted refresh", f.provider.ViewerCalls)
	}

	f.clock.Advance(10 * time.Second)
	body := f.do(t, http.MethodGet, PathAccount+"?refresh=1")
	if f.provider.ViewerCalls != 2 {
		t.Errorf("viewer calls = %d, throttled refresh must not fetch", f.provider.ViewerCalls)
	}
	want := now.Add(30 * time.Second).Format(time.RFC3339)
	if body["refreshLockedUntil"] != want || body["login"] != "octo" {
		t.Errorf("body = %v, want refreshLockedUntil %s", body, want)
	}
}

func TestAccount_ConfigurationMissing(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Provider = nil
		c.ProviderErr = errors.New("GITHUB_TOKEN is not set")
	})
	body := f.do(t, http.MethodGet, PathAccount)
	msg, _ := body["error"].(string)
	if !strings.Contains(msg, types.ErrConfigurationMissing.Error()) || !strings.Contains(msg, "GITHUB_TOKEN") {
		t.Errorf("error = %q", msg)
	}
	f.do(t, http.MethodGet, PathAccount)
	if f.cache.Len() != 0 {
		t.Errorf("configuration errors must not be cached, len = %d", f.cache.Len())
	}
	if got := f.metrics.Snapshot().ConfigurationErrors; got != 2 {
		t.Errorf("configuration errors = %d, want 2", got)
	}
}

func newTrigger(t *testing.T, f *fixture) *job.Trigger {
	t.Helper()
	f.provider.Repos = []provider.Repo{{ID: 1, Owner: "octo", Name: "alpha", FullName: "octo/alpha", PushedAt: now}}
	j, err := job.New(job.Config{Store: f.store, Provider: f.provider, Clock: f.clock, RateLimits: f.cache})
	if err != nil {
		t.Fatal(err)
	}
	trig := job.NewTrigger(j, f.cache)
	t.Cleanup(trig.Close)
	return trig
}

// withTrigger rebuilds the server around a trigger over the fixture's store.
func (f *fixture) withTrigger(t *testing.T) *job.Trigger {
	t.Helper()
	trig := newTrigger(t, f)
	cfg := f.server.cfg
	cfg.Trigger = trig
	cfg.RefreshWait = 5 * time.Second
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.server = s
	return trig
}

func TestScheduledRunInvalidatesMetrics(t *testing.T) {
	f := newFixture(t)
	trig := f.withTrigger(t)

	if body := f.do(t, http.MethodGet, PathMetrics); body["totalRepos"] != float64(0) {
		t.Fatalf("initial metrics = %v", body)
	}
	res, _, err := trig.Run(t.Context(), job.Options{})
	if err != nil || res.Status != job.StatusCompleted {
		t.Fatalf("run = (%+v, %v)", res, err)
	}
	if _, ok := f.cache.Get(FeedMetrics); ok {
		t.Error("metrics entry survived a completed run")
	}
	if body := f.do(t, http.MethodGet, PathMetrics); body["totalRepos"] != float64(1) {
		t.Errorf("metrics after run = %v", body)
	}
}

func TestRefresh_RunsJobThenThrottles(t *testing.T) {
	f := newFixture(t)
	f.withTrigger(t)

	f.do(t, http.MethodGet, PathMetrics)
	body := f.do(t, http.MethodPost, PathRefresh)
	if body["status"] != string(job.StatusCompleted) || body["totalRepos"] != float64(1) {
		t.Fatalf("body = %v", body)
	}

	metricsBody := f.do(t, http.MethodGet, PathMetrics)
	if metricsBody["totalRepos"] != float64(1) {
		t.Errorf("metrics cache not invalidated after run: %v", metricsBody)
	}

	body = f.do(t, http.MethodPost, PathRefresh+"?force=1")
	if body["status"] != "throttled" || body["refreshLockedUntil"] == nil {
		t.Errorf("second refresh = %v", body)
	}
	if got := f.metrics.Snapshot().RefreshThrottled; got != 1 {
		t.Errorf("refresh throttled = %d", got)
	}
}

func TestRefresh_SkippedReportsNextAllowed(t *testing.T) {
	f := newFixture(t)
	finished := now.Add(-time.Hour)
	f.store.Seed(&types.MetricsHistory{
		User:        "octo",
		GeneratedAt: finished,
		Progress:    types.Progress{StartedAt: finished, FinishedAt: &finished},
	}, nil)
	f.withTrigger(t)

	body := f.do(t, http.MethodPost, PathRefresh)
	want := finished.Add(job.DefaultMinInterval).Format(time.RFC3339)
	if body["status"] != string(job.StatusSkipped) || body["refreshLockedUntil"] != want {
		t.Errorf("body = %v, want skipped until %s", body, want)
	}
}

func TestRefresh_NotConfigured(t *testing.T) {
	f := newFixture(t)
	body := f.do(t, http.MethodPost, PathRefresh)
	if body["error"] == nil {
		t.Errorf("body = %v", body)
	}
}

func TestCountersAndHealth(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, PathAccount)
	f.do(t, http.MethodGet, PathAccount)

	body := f.do(t, http.MethodGet, PathCounters)
	counters, _ := body["counters"].(map[string]any)
	if counters["cache_hits"] != float64(1) || counters["cache_misses"] != float64(1) {
		t.Errorf("counters = %v", counters)
	}
	if body["cacheEntries"] != float64(1) {
		t.Errorf("cacheEntries = %v", body["cacheEntries"])
	}

	if got := f.do(t, http.MethodGet, PathHealth); got["status"] != "ok" {
		t.Errorf("health = %v", got)
	}
}
