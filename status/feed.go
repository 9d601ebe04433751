package status

import (
	"context"
	"net/http"
	"time"

	"github.com/pithecene-io/pulse/cache"
)

// Feed is a cached, provider-aware payload served at one route.
type Feed[T any] struct {
	// Name is the cache key and manual-refresh key suffix.
	Name string
	// Provider names the rate-limit table entry consulted before Build.
	// Empty for feeds that never call a rate-limited upstream.
	Provider string

	TTL            time.Duration
	Stale          time.Duration
	ManualCooldown time.Duration

	// Build computes a fresh payload. It runs detached from the request
	// and at most once at a time per feed.
	Build func(ctx context.Context) (T, error)
}

// serveFeed answers r from f through the cache's read-through policy.
// "?refresh=1" requests a manual refresh.
func serveFeed[T any](s *Server, w http.ResponseWriter, r *http.Request, f Feed[T]) {
	refresh := r.URL.Query().Get("refresh") == "1"
	res := cache.GetOrFetch(r.Context(), s.cache, f.Name, cache.Policy{
		TTL:            f.TTL,
		Stale:          f.Stale,
		Provider:       f.Provider,
		ManualRefresh:  refresh,
		ManualCooldown: f.ManualCooldown,
		Collector:      s.collector,
	}, f.Build)

	meta := Meta{
		RateLimitedUntil:   res.RateLimitedUntil,
		RefreshLockedUntil: res.RefreshLockedUntil,
		Stale:              res.Stale,
	}
	if res.Cached {
		meta.CachedAt = res.CachedAt(f.TTL)
	}
	if res.FetchErr != nil {
		s.logger.Warn("feed refresh failed", map[string]any{
			"feed":        f.Name,
			"error":       res.FetchErr.Error(),
			"served_data": res.HasData,
		})
	}
	if res.Err != nil {
		meta.Error = res.Err.Error()
	}

	var payload any
	if res.HasData {
		payload = res.Data
	}
	writeEnvelope(w, payload, meta)
}
