package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pithecene-io/pulse/clock"
	"github.com/pithecene-io/pulse/iox"
	"github.com/pithecene-io/pulse/status"
	"github.com/pithecene-io/pulse/types"
)

// Meta holds the envelope fields every status response may carry.
type Meta struct {
	Error              string    `json:"error,omitempty" msgpack:"error,omitempty"`
	RateLimitedUntil   time.Time `json:"rateLimitedUntil,omitzero" msgpack:"rate_limited_until"`
	RefreshLockedUntil time.Time `json:"refreshLockedUntil,omitzero" msgpack:"refresh_locked_until"`
	Stale              bool      `json:"stale,omitempty" msgpack:"stale,omitempty"`
	CachedAt           time.Time `json:"cachedAt,omitzero" msgpack:"cached_at"`
}

// MetricsStatus is a decoded /api/metrics/status response.
type MetricsStatus struct {
	status.MetricsSummary
	Meta
}

// AccountStatus is a decoded /api/account/status response.
type AccountStatus struct {
	status.AccountStatus
	Meta
}

// ErrorOf returns the in-band error of an envelope.
func (m Meta) ErrorOf() string { return m.Error }

const maxBody = 4 << 20

// HTTPFetcher returns a Fetcher that GETs rawURL and decodes the JSON body.
// Forced fetches add refresh=1 to the query.
func HTTPFetcher[T any](rawURL string, hc *http.Client) Fetcher[T] {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context, force bool) (T, error) {
		var out T
		u, err := url.Parse(rawURL)
		if err != nil {
			return out, fmt.Errorf("parse url: %w", err)
		}
		if force {
			q := u.Query()
			q.Set("refresh", "1")
			u.RawQuery = q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return out, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return out, &types.UpstreamError{Provider: "status", Op: "get", Err: err}
		}
		defer iox.DiscardClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return out, &types.UpstreamError{Provider: "status", Op: "get", StatusCode: resp.StatusCode}
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil {
			return out, &types.UpstreamError{Provider: "status", Op: "decode", Err: err}
		}
		return out, nil
	}
}

// PollPolicy configures PollDelay.
type PollPolicy[T any] struct {
	// Busy is the interval while InProgress reports true.
	Busy time.Duration
	// Idle is the interval otherwise.
	Idle time.Duration

	InProgress       func(T) bool
	RateLimitedUntil func(T) time.Time
	Clock            clock.Clock
}

// PollDelay builds a Config.Delay function: Busy while work is in progress,
// Idle otherwise, and never earlier than a server-declared rate limit.
func PollDelay[T any](p PollPolicy[T]) func(T) time.Duration {
	clk := clock.OrReal(p.Clock)
	return func(v T) time.Duration {
		d := p.Idle
		if p.InProgress != nil && p.InProgress(v) && p.Busy > 0 {
			d = p.Busy
		}
		if p.RateLimitedUntil != nil {
			if until := p.RateLimitedUntil(v); !until.IsZero() {
				if wait := until.Sub(clk.Now()); wait > d {
					d = wait
				}
			}
		}
		return d
	}
}

// MetricsPollDelay is PollDelay for the metrics feed.
func MetricsPollDelay(busy, idle time.Duration, clk clock.Clock) func(MetricsStatus) time.Duration {
	return PollDelay(PollPolicy[MetricsStatus]{
		Busy:             busy,
		Idle:             idle,
		InProgress:       func(m MetricsStatus) bool { return m.InProgress },
		RateLimitedUntil: func(m MetricsStatus) time.Time { return m.RateLimitedUntil },
		Clock:            clk,
	})
}

// Level grades how current a snapshot's data is across the server cache
// and the local cache.
type Level string

const (
	// Fresh data came from the latest response and the server served it
	// within its TTL.
	LevelFresh Level = "fresh"
	// Cached data is usable but stale in at least one layer.
	LevelCached Level = "cached"
	// Unavailable means there is no data to show.
	LevelUnavailable Level = "unavailable"
)

// Freshness grades snap. serverStale reports whether the server marked the
// payload stale; nil treats every payload as current.
func Freshness[T any](snap Snapshot[T], serverStale func(T) bool) Level {
	if snap.Data == nil || snap.State != StateReady {
		return LevelUnavailable
	}
	if snap.IsCached || (serverStale != nil && serverStale(*snap.Data)) {
		return LevelCached
	}
	return LevelFresh
}
