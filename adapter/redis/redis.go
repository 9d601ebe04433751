// Package redis publishes job completion events over Redis pub/sub.
//
// Each event is PUBLISHed as JSON. When a history key is configured the
// event is also pushed onto a capped list so consumers that were not
// subscribed can catch up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/pulse/adapter"
)

const (
	// DefaultChannel is the pub/sub channel.
	DefaultChannel = "pulse:job_completed"
	// DefaultTimeout bounds one publish attempt.
	DefaultTimeout = 5 * time.Second
	// DefaultRetries is the number of retries after a failure.
	DefaultRetries = 3
	// DefaultHistoryLen caps the history list.
	DefaultHistoryLen = 50
)

// Config configures the Redis notifier.
type Config struct {
	// URL is redis://[:password@]host:port[/db] (required).
	URL     string
	Channel string
	// HistoryKey, when set, names a list holding the most recent events,
	// newest first, capped at HistoryLen.
	HistoryKey string
	HistoryLen int
	Timeout    time.Duration
	Retries    int
}

// Adapter publishes events with PUBLISH and, optionally, LPUSH.
type Adapter struct {
	config Config
	client *goredis.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

// New parses cfg.URL and applies defaults. No connection is made until the
// first Publish.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis notifier requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis notifier: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryLen <= 0 {
		cfg.HistoryLen = DefaultHistoryLen
	}
	return &Adapter{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish implements adapter.Adapter.
func (a *Adapter) Publish(ctx context.Context, event *adapter.JobCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := adapter.Retry(ctx, a.config.Retries, nil, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.send(ctx, body)
	}); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, body []byte) error {
	if a.config.HistoryKey == "" {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, a.config.HistoryKey, body)
		p.LTrim(ctx, a.config.HistoryKey, 0, int64(a.config.HistoryLen-1))
		p.Publish(ctx, a.config.Channel, body)
		return nil
	})
	return err
}

// Recent returns up to n events from the history list, newest first.
// It returns nil when no history key is configured.
func (a *Adapter) Recent(ctx context.Context, n int) ([]adapter.JobCompletedEvent, error) {
	if a.config.HistoryKey == "" || n <= 0 {
		return nil, nil
	}
	raw, err := a.client.LRange(ctx, a.config.HistoryKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}
	out := make([]adapter.JobCompletedEvent, 0, len(raw))
	for _, r := range raw {
		var e adapter.JobCompletedEvent
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("redis: decode history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
