// Package redis is a MetricsStore backed by two Redis string keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

// DefaultPrefix namespaces the history and lock keys.
const DefaultPrefix = "pulse"

// DefaultTimeout is the default per-command timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis store.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces keys as <prefix>:history and <prefix>:lock.
	Prefix string
	// LockTTL expires the lock key server-side. Staleness is still decided
	// by the lock's startedAt; the TTL only cleans up abandoned keys.
	LockTTL time.Duration
	// Timeout is the per-command timeout (default 5s).
	Timeout time.Duration
}

// Store keeps the history document and lock under <prefix>:history and <prefix>:lock.
type Store struct {
	config Config
	client *goredis.Client
}

var _ store.MetricsStore = (*Store)(nil)

// New creates a Redis store from cfg. It does not contact the server;
// store.Validate probes the connection.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis store requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid URL: %w", err)
	}
	return NewWithClient(goredis.NewClient(opts), cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LockTTL < 0 {
		cfg.LockTTL = 0
	}
	return &Store{config: cfg, client: client}
}

// HistoryKey returns the key holding the history document.
func (s *Store) HistoryKey() string { return s.config.Prefix + ":history" }

// LockKey returns the key holding the job lock.
func (s *Store) LockKey() string { return s.config.Prefix + ":lock" }

// GetHistory implements store.MetricsStore.
func (s *Store) GetHistory(ctx context.Context) (*types.MetricsHistory, error) {
	var h types.MetricsHistory
	found, err := s.get(ctx, "get_history", s.HistoryKey(), &h)
	if err != nil || !found {
		return nil, err
	}
	return &h, nil
}

// SaveHistory implements store.MetricsStore.
func (s *Store) SaveHistory(ctx context.Context, h *types.MetricsHistory) error {
	if h == nil {
		return errors.New("save_history: nil history")
	}
	return s.set(ctx, "save_history", s.HistoryKey(), h, 0)
}

// GetLock implements store.MetricsStore.
func (s *Store) GetLock(ctx context.Context) (*types.Lock, error) {
	var l types.Lock
	found, err := s.get(ctx, "get_lock", s.LockKey(), &l)
	if err != nil || !found {
		return nil, err
	}
	return &l, nil
}

// SetLock implements store.MetricsStore.
func (s *Store) SetLock(ctx context.Context, l *types.Lock) error {
	if l == nil {
		return errors.New("set_lock: nil lock")
	}
	return s.set(ctx, "set_lock", s.LockKey(), l, s.config.LockTTL)
}

// ClearLock implements store.MetricsStore.
func (s *Store) ClearLock(ctx context.Context) error {
	cmdCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.client.Del(cmdCtx, s.LockKey()).Err(); err != nil {
		return store.Wrap("clear_lock", s.LockKey(), err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) get(ctx context.Context, op, key string, v any) (bool, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	data, err := s.client.Get(cmdCtx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, store.Wrap(op, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, store.Corrupt(op, key, err)
	}
	return true, nil
}

func (s *Store) set(ctx context.Context, op, key string, v any, ttl time.Duration) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	cmdCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.client.Set(cmdCtx, key, body, ttl).Err(); err != nil {
		return store.Wrap(op, key, err)
	}
	return nil
}
