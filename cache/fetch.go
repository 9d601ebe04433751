package cache

import (
	"context"
	"time"

	"github.com/pithecene-io/pulse/metrics"
	"github.com/pithecene-io/pulse/types"
)

// Policy controls a read-through GetOrFetch.
type Policy struct {
	// TTL and Stale size the entry written on a successful fetch.
	TTL   time.Duration
	Stale time.Duration

	// Provider names the rate-limit table key consulted before fetching.
	// Empty disables the rate-limit check.
	Provider string

	// ManualRefresh requests bypassing a fresh entry. It is subject to
	// ManualCooldown, keyed by ManualKey (default "refresh:" + key).
	ManualRefresh  bool
	ManualKey      string
	ManualCooldown time.Duration

	Collector *metrics.Collector
}

// Result is the outcome of GetOrFetch.
type Result[T any] struct {
	Data    T
	HasData bool

	// Cached is true when Data came from the cache without a fetch.
	Cached bool
	// Stale is true when Data is past its TTL but inside its stale window.
	Stale bool
	// ExpiresAt is the TTL boundary of the entry Data came from.
	ExpiresAt time.Time

	// Err is set only when no data could be served.
	Err error
	// FetchErr is the most recent fetch failure, even if stale data was served.
	FetchErr error

	RateLimitedUntil   time.Time
	RefreshLockedUntil time.Time
}

// CachedAt approximates when the served entry was written.
func (r Result[T]) CachedAt(ttl time.Duration) time.Time {
	if r.ExpiresAt.IsZero() {
		return time.Time{}
	}
	return r.ExpiresAt.Add(-ttl)
}

// GetOrFetch serves key from s, calling fetch when needed. In order:
//  1. A manual refresh inside its cooldown is rejected; existing data is
//     served with RefreshLockedUntil set, otherwise the call proceeds as a miss.
//  2. A fresh entry is served unless an accepted manual refresh bypasses it.
//  3. An active provider rate limit serves whatever entry exists, or fails
//     with a RateLimitError if there is none.
//  4. fetch runs, coalesced per key. Success is written through. Failure
//     degrades to the previous entry while inside its stale window; a rate
//     limit reported by fetch is recorded for the provider.
func GetOrFetch[T any](ctx context.Context, s *Store, key string, p Policy, fetch func(context.Context) (T, error)) Result[T] {
	var res Result[T]
	c := p.Collector

	entry, ok := s.Get(key)
	var cached T
	if ok {
		cached, ok = entry.Data.(T)
	}
	serve := func() Result[T] {
		res.Data = cached
		res.HasData = true
		res.Cached = true
		res.Stale = entry.State(s.Now()) == Stale
		res.ExpiresAt = entry.ExpiresAt
		if res.Stale {
			c.IncStaleServed()
		}
		return res
	}

	force := false
	if p.ManualRefresh {
		mk := p.ManualKey
		if mk == "" {
			mk = "refresh:" + key
		}
		d := s.CheckManualRefresh(mk, p.ManualCooldown)
		if d.Allowed {
			force = true
			c.IncRefreshAccepted()
		} else {
			c.IncRefreshThrottled()
			res.RefreshLockedUntil = d.NextAllowedAt
			if ok {
				return serve()
			}
		}
	}

	if ok && !force && entry.State(s.Now()) == Fresh {
		c.IncCacheHit()
		return serve()
	}

	if p.Provider != "" {
		if rl, limited := s.RateLimit(p.Provider); limited {
			c.IncRateLimitedServed()
			res.RateLimitedUntil = rl.Until
			if ok {
				return serve()
			}
			res.Err = &types.RateLimitError{Provider: p.Provider, Until: rl.Until, Reason: rl.Reason}
			return res
		}
	}

	c.IncCacheMiss()
	val, shared, err := Coalesce(ctx, s, key, func(ctx context.Context) (T, error) {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		s.Set(key, v, p.TTL, p.Stale)
		return v, nil
	})
	if shared {
		c.IncCoalesced()
	}
	if err == nil {
		res.Data = val
		res.HasData = true
		res.ExpiresAt = s.Now().Add(p.TTL)
		if e, found := s.Get(key); found {
			res.ExpiresAt = e.ExpiresAt
		}
		return res
	}

	c.IncFetchFailure()
	res.FetchErr = err
	if rl, isRL := types.AsRateLimit(err); isRL {
		provider := p.Provider
		if provider == "" {
			provider = rl.Provider
		}
		if provider != "" {
			s.SetRateLimit(provider, rl.Until, rl.Reason)
			if cur, found := s.RateLimit(provider); found {
				res.RateLimitedUntil = cur.Until
			}
		}
	}
	if ok && s.Now().Before(entry.StaleUntil) {
		return serve()
	}
	res.Err = err
	return res
}
