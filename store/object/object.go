// Package object is a MetricsStore over a lode object store: local
// filesystem, in-memory, or S3 (and S3-compatible providers).
package object

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

// Object names under the store prefix.
const (
	HistoryObject = "history.json"
	LockObject    = "lock.json"
)

// Store keeps the history and lock documents as two objects.
// Overwrites are delete-then-put; callers serialize writes through the
// job lock, and the mutex covers writers within one process.
type Store struct {
	objects lode.Store
	prefix  string
	mu      sync.Mutex
}

var _ store.MetricsStore = (*Store)(nil)

// New wraps an existing lode store. prefix is joined onto every object name.
func New(objects lode.Store, prefix string) *Store {
	return &Store{objects: objects, prefix: prefix}
}

// NewFromFactory constructs the lode store and wraps it.
func NewFromFactory(factory lode.StoreFactory, prefix string) (*Store, error) {
	objects, err := factory()
	if err != nil {
		return nil, store.Wrap("init", prefix, err)
	}
	return New(objects, prefix), nil
}

// NewMemory returns a Store over lode's in-memory backend.
func NewMemory() *Store {
	return New(lode.NewMemory(), "")
}

// NewFS returns a Store over lode's filesystem backend rooted at root.
func NewFS(root string) (*Store, error) {
	return NewFromFactory(lode.NewFSFactory(root), "")
}

// NewS3 returns a Store over S3. Uses the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func NewS3(ctx context.Context, cfg store.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, store.Wrap("init", cfg.Bucket, fmt.Errorf("load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	// The bucket prefix is handled by lode; object names stay bare.
	return NewFromFactory(func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: cfg.Bucket,
			Prefix: cfg.Prefix,
		})
	}, "")
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// GetHistory implements store.MetricsStore.
func (s *Store) GetHistory(ctx context.Context) (*types.MetricsHistory, error) {
	var h types.MetricsHistory
	found, err := s.read(ctx, "get_history", s.key(HistoryObject), &h)
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
	return s.write(ctx, "save_history", s.key(HistoryObject), h)
}

// GetLock implements store.MetricsStore.
func (s *Store) GetLock(ctx context.Context) (*types.Lock, error) {
	var l types.Lock
	found, err := s.read(ctx, "get_lock", s.key(LockObject), &l)
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
	return s.write(ctx, "set_lock", s.key(LockObject), l)
}

// ClearLock implements store.MetricsStore.
func (s *Store) ClearLock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(ctx, "clear_lock", s.key(LockObject))
}

// Close implements store.MetricsStore.
func (s *Store) Close() error {
	return nil
}

func (s *Store) read(ctx context.Context, op, key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return false, store.Wrap(op, key, err)
	}
	if !ok {
		return false, nil
	}
	rc, err := s.objects.Get(ctx, key)
	if err != nil {
		return false, store.Wrap(op, key, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return false, store.Wrap(op, key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, store.Corrupt(op, key, err)
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, op, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.remove(ctx, op, key); err != nil {
		return err
	}
	if err := s.objects.Put(ctx, key, bytes.NewReader(body)); err != nil {
		return store.Wrap(op, key, err)
	}
	return nil
}

// remove deletes key if present. Caller holds s.mu.
func (s *Store) remove(ctx context.Context, op, key string) error {
	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return store.Wrap(op, key, err)
	}
	if !ok {
		return nil
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		return store.Wrap(op, key, err)
	}
	return nil
}
