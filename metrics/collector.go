// Package metrics provides process-wide counters for the cache, the update
// job, and the metrics store.
//
// The Collector is a leaf package with no internal dependencies. All
// increment methods are nil-receiver safe so callers can run without one.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Cache
	CacheHits           int64 `json:"cache_hits"`
	CacheMisses         int64 `json:"cache_misses"`
	CacheStaleServed    int64 `json:"cache_stale_served"`
	CacheCoalesced      int64 `json:"cache_coalesced"`
	CacheFetchFailures  int64 `json:"cache_fetch_failures"`
	RateLimitedServed   int64 `json:"rate_limited_served"`
	RefreshThrottled    int64 `json:"refresh_throttled"`
	RefreshAccepted     int64 `json:"refresh_accepted"`
	ConfigurationErrors int64 `json:"configuration_errors"`

	// Update job
	JobRunsStarted   int64 `json:"job_runs_started"`
	JobRunsCompleted int64 `json:"job_runs_completed"`
	JobRunsFailed    int64 `json:"job_runs_failed"`
	JobRunsSkipped   int64 `json:"job_runs_skipped"`
	JobRunsContended int64 `json:"job_runs_contended"`
	ReposProcessed   int64 `json:"repos_processed"`

	// Metrics store
	StoreWriteSuccess int64 `json:"store_write_success"`
	StoreWriteFailure int64 `json:"store_write_failure"`

	// Dimensions (informational, set at construction)
	StoreBackend string `json:"store_backend"`
	Provider     string `json:"provider"`
}

// Collector accumulates counters for the lifetime of a process.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(storeBackend, provider string) *Collector {
	return &Collector{s: Snapshot{StoreBackend: storeBackend, Provider: provider}}
}

func (c *Collector) add(field func(*Snapshot) *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field(&c.s) += n
	c.mu.Unlock()
}

// --- Cache ---

// IncCacheHit records a fresh cache hit.
func (c *Collector) IncCacheHit() { c.add(func(s *Snapshot) *int64 { return &s.CacheHits }, 1) }

// IncCacheMiss records a lookup that required computation.
func (c *Collector) IncCacheMiss() { c.add(func(s *Snapshot) *int64 { return &s.CacheMisses }, 1) }

// IncStaleServed records a response served from the stale window.
func (c *Collector) IncStaleServed() {
	c.add(func(s *Snapshot) *int64 { return &s.CacheStaleServed }, 1)
}

// IncCoalesced records a caller that joined an outstanding computation.
func (c *Collector) IncCoalesced() { c.add(func(s *Snapshot) *int64 { return &s.CacheCoalesced }, 1) }

// IncFetchFailure records a failed payload computation.
func (c *Collector) IncFetchFailure() {
	c.add(func(s *Snapshot) *int64 { return &s.CacheFetchFailures }, 1)
}

// IncRateLimitedServed records a response short-circuited by a provider rate limit.
func (c *Collector) IncRateLimitedServed() {
	c.add(func(s *Snapshot) *int64 { return &s.RateLimitedServed }, 1)
}

// IncRefreshThrottled records a manual refresh rejected by the cooldown.
func (c *Collector) IncRefreshThrottled() {
	c.add(func(s *Snapshot) *int64 { return &s.RefreshThrottled }, 1)
}

// IncRefreshAccepted records a manual refresh allowed by the cooldown.
func (c *Collector) IncRefreshAccepted() {
	c.add(func(s *Snapshot) *int64 { return &s.RefreshAccepted }, 1)
}

// IncConfigurationError records a request that failed on missing configuration.
func (c *Collector) IncConfigurationError() {
	c.add(func(s *Snapshot) *int64 { return &s.ConfigurationErrors }, 1)
}

// --- Update job ---

// IncJobStarted records a job run that acquired the lock.
func (c *Collector) IncJobStarted() { c.add(func(s *Snapshot) *int64 { return &s.JobRunsStarted }, 1) }

// IncJobCompleted records a job run that finalized the history.
func (c *Collector) IncJobCompleted() {
	c.add(func(s *Snapshot) *int64 { return &s.JobRunsCompleted }, 1)
}

// IncJobFailed records a job run that exited with an error.
func (c *Collector) IncJobFailed() { c.add(func(s *Snapshot) *int64 { return &s.JobRunsFailed }, 1) }

// IncJobSkipped records a job run declined by the freshness guard.
func (c *Collector) IncJobSkipped() { c.add(func(s *Snapshot) *int64 { return &s.JobRunsSkipped }, 1) }

// IncJobContended records a job run declined by an active lock.
func (c *Collector) IncJobContended() {
	c.add(func(s *Snapshot) *int64 { return &s.JobRunsContended }, 1)
}

// AddReposProcessed records n checkpointed repositories.
func (c *Collector) AddReposProcessed(n int) {
	c.add(func(s *Snapshot) *int64 { return &s.ReposProcessed }, int64(n))
}

// --- Metrics store ---
// Store counters are per document write, not per repo.

// IncStoreWriteSuccess records a successful history or lock write.
func (c *Collector) IncStoreWriteSuccess() {
	c.add(func(s *Snapshot) *int64 { return &s.StoreWriteSuccess }, 1)
}

// IncStoreWriteFailure records a failed history or lock write.
func (c *Collector) IncStoreWriteFailure() {
	c.add(func(s *Snapshot) *int64 { return &s.StoreWriteFailure }, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
