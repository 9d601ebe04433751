// Package status serves the cached telemetry endpoints.
//
// Every response is HTTP 200 with a JSON body: failures, rate limits and
// throttled refreshes are reported in-band through the envelope fields so
// clients can keep rendering the last known payload.
package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/pithecene-io/pulse/cache"
	"github.com/pithecene-io/pulse/clock"
	"github.com/pithecene-io/pulse/job"
	"github.com/pithecene-io/pulse/log"
	"github.com/pithecene-io/pulse/metrics"
	"github.com/pithecene-io/pulse/provider"
	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

// Routes.
const (
	PathMetrics  = "/api/metrics/status"
	PathAccount  = "/api/account/status"
	PathRefresh  = "/api/metrics/refresh"
	PathCounters = "/api/debug/counters"
	PathHealth   = "/healthz"
)

// Feed names double as cache keys.
const (
	FeedMetrics = "metrics"
	FeedAccount = "account"

	refreshJobKey = "refresh:job"
)

// Defaults applied by New.
const (
	DefaultMetricsTTL     = time.Minute
	DefaultMetricsStale   = 10 * time.Minute
	DefaultAccountTTL     = 5 * time.Minute
	DefaultAccountStale   = time.Hour
	DefaultManualCooldown = time.Minute
	DefaultRefreshWait    = 2 * time.Second
	DefaultTopRepos       = 5
	shutdownTimeout       = 10 * time.Second
)

// Config wires a Server. Cache and Store are required.
type Config struct {
	Cache *cache.Store
	Store store.MetricsStore
	// Provider backs the account feed. Nil means the provider is not
	// configured; ProviderErr then explains why.
	Provider    provider.Provider
	ProviderErr error
	// Trigger runs the update job for manual refreshes. Nil disables them.
	Trigger   *job.Trigger
	Clock     clock.Clock
	Logger    *log.Logger
	Collector *metrics.Collector

	MetricsTTL     time.Duration
	MetricsStale   time.Duration
	AccountTTL     time.Duration
	AccountStale   time.Duration
	ManualCooldown time.Duration
	LockStaleAfter time.Duration
	// RefreshWait bounds how long POST refresh waits for the job before
	// answering {"status":"running"}.
	RefreshWait time.Duration
	TopRepos    int
}

// AccountStatus is the /api/account/status payload.
type AccountStatus struct {
	Provider string `json:"provider"`
	provider.Account
}

// Server is the status HTTP surface.
type Server struct {
	cfg       Config
	cache     *cache.Store
	clock     clock.Clock
	logger    *log.Logger
	collector *metrics.Collector
	router    *httprouter.Router

	metrics Feed[MetricsSummary]
	account Feed[AccountStatus]

	configWarn sync.Once
}

// New validates cfg, applies defaults and registers the routes.
func New(cfg Config) (*Server, error) {
	if cfg.Cache == nil {
		return nil, errors.New("status: cache is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("status: %w", store.ErrNilStore)
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	defaultDuration(&cfg.MetricsTTL, DefaultMetricsTTL)
	defaultDuration(&cfg.MetricsStale, DefaultMetricsStale)
	defaultDuration(&cfg.AccountTTL, DefaultAccountTTL)
	defaultDuration(&cfg.AccountStale, DefaultAccountStale)
	defaultDuration(&cfg.ManualCooldown, DefaultManualCooldown)
	defaultDuration(&cfg.LockStaleAfter, types.DefaultLockStaleAfter)
	defaultDuration(&cfg.RefreshWait, DefaultRefreshWait)
	if cfg.TopRepos <= 0 {
		cfg.TopRepos = DefaultTopRepos
	}

	s := &Server{
		cfg:       cfg,
		cache:     cfg.Cache,
		clock:     cfg.Clock,
		logger:    log.OrNop(cfg.Logger).Named("status"),
		collector: cfg.Collector,
	}
	s.metrics = Feed[MetricsSummary]{
		Name:           FeedMetrics,
		TTL:            cfg.MetricsTTL,
		Stale:          cfg.MetricsStale,
		ManualCooldown: cfg.ManualCooldown,
		Build:          s.buildMetrics,
	}
	s.account = Feed[AccountStatus]{
		Name:           FeedAccount,
		TTL:            cfg.AccountTTL,
		Stale:          cfg.AccountStale,
		ManualCooldown: cfg.ManualCooldown,
		Build:          s.buildAccount,
	}
	if cfg.Provider != nil {
		s.account.Provider = cfg.Provider.Name()
	}
	if cfg.Trigger != nil {
		cfg.Trigger.OnFinish(s.invalidateMetrics)
	}

	r := httprouter.New()
	r.GET(PathMetrics, s.handleMetrics)
	r.GET(PathAccount, s.handleAccount)
	r.POST(PathRefresh, s.handleRefresh)
	r.GET(PathCounters, s.handleCounters)
	r.GET(PathHealth, s.handleHealth)
	r.PanicHandler = s.handlePanic
	s.router = r
	return s, nil
}

func defaultDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.router.ServeHTTP(w, r)
		s.logger.Debug("request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", map[string]any{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	serveFeed(s, w, r, s.metrics)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.cfg.Provider == nil {
		err := s.configurationError()
		s.collector.IncConfigurationError()
		s.configWarn.Do(func() {
			s.logger.Warn("account feed disabled", map[string]any{"error": err.Error()})
		})
		writeEnvelope(w, nil, Meta{Error: err.Error()})
		return
	}
	serveFeed(s, w, r, s.account)
}

func (s *Server) configurationError() error {
	if s.cfg.ProviderErr != nil {
		if errors.Is(s.cfg.ProviderErr, types.ErrConfigurationMissing) {
			return s.cfg.ProviderErr
		}
		return fmt.Errorf("%w: %w", types.ErrConfigurationMissing, s.cfg.ProviderErr)
	}
	return fmt.Errorf("%w: no provider token", types.ErrConfigurationMissing)
}

func (s *Server) buildMetrics(ctx context.Context) (MetricsSummary, error) {
	h, err := s.cfg.Store.GetHistory(ctx)
	if err != nil {
		return MetricsSummary{}, fmt.Errorf("read history: %w", err)
	}
	lock, err := s.cfg.Store.GetLock(ctx)
	if err != nil {
		return MetricsSummary{}, fmt.Errorf("read lock: %w", err)
	}
	return Summarize(h, lock, s.clock.Now(), s.cfg.LockStaleAfter, s.cfg.TopRepos), nil
}

func (s *Server) buildAccount(ctx context.Context) (AccountStatus, error) {
	acct, err := s.cfg.Provider.Viewer(ctx)
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{Provider: s.cfg.Provider.Name(), Account: *acct}, nil
}

// refreshResponse is the POST refresh body. Result fields are flattened in
// when the job finished within the wait.
type refreshResponse struct {
	*job.Result
	Status string `json:"status"`
	Shared bool   `json:"shared,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.cfg.Trigger == nil {
		writeEnvelope(w, nil, Meta{Error: "update job not configured"})
		return
	}
	d := s.cache.CheckManualRefresh(refreshJobKey, s.cfg.ManualCooldown)
	if !d.Allowed {
		s.collector.IncRefreshThrottled()
		writeEnvelope(w, map[string]string{"status": "throttled"}, Meta{RefreshLockedUntil: d.NextAllowedAt})
		return
	}
	s.collector.IncRefreshAccepted()

	opts := job.Options{Force: r.URL.Query().Get("force") == "1"}
	type outcome struct {
		res    *job.Result
		shared bool
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, shared, err := s.cfg.Trigger.Run(context.WithoutCancel(r.Context()), opts)
		done <- outcome{res, shared, err}
	}()

	wait := time.NewTimer(s.cfg.RefreshWait)
	defer wait.Stop()
	select {
	case o := <-done:
		var meta Meta
		if o.err != nil {
			meta.Error = o.err.Error()
		}
		body := refreshResponse{Result: o.res, Shared: o.shared}
		if o.res != nil {
			body.Status = string(o.res.Status)
			if o.res.Status != job.StatusCompleted && o.res.Status != job.StatusFailed {
				meta.RefreshLockedUntil = o.res.NextAllowedAt
			}
		} else {
			body.Status = string(job.StatusFailed)
		}
		writeEnvelope(w, body, meta)
	case <-wait.C:
		writeEnvelope(w, map[string]string{"status": "running"}, Meta{})
	case <-r.Context().Done():
	}
}

// invalidateMetrics drops the cached summary once a run has written to the
// store.
func (s *Server) invalidateMetrics(res *job.Result) {
	if res.Status == job.StatusCompleted || res.Status == job.StatusFailed {
		s.cache.Delete(FeedMetrics)
	}
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]any{
		"counters":     s.collector.Snapshot(),
		"cacheEntries": s.cache.Len(),
		"jobRunning":   s.cfg.Trigger != nil && s.cfg.Trigger.Running(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, v any) {
	s.logger.Error("handler panic", map[string]any{"path": r.URL.Path, "panic": fmt.Sprint(v)})
	writeEnvelope(w, nil, Meta{Error: "internal error"})
}
