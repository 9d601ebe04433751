package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Adapter modes accepted by Config.Adapter.
const (
	ModeFile   = "file"
	ModeSQL    = "sql"
	ModeRedis  = "redis"
	ModeS3     = "s3"
	ModeMemory = "memory"

	// CustomPrefix selects a registered adapter: "custom:<name>".
	CustomPrefix = "custom:"
)

// Config carries everything an adapter constructor may need.
type Config struct {
	// Adapter is an explicit mode, "custom:<name>", or empty to infer.
	Adapter string

	// Path is the directory for the file adapter.
	Path string
	// SQLDSN is the sqlite database path or DSN.
	SQLDSN string
	// RedisURL and RedisPrefix configure the redis adapter.
	RedisURL    string
	RedisPrefix string
	// S3 configures the s3 adapter.
	S3 S3Config

	// LockStaleAfter bounds lock age; the redis adapter also uses it as a key TTL.
	LockStaleAfter time.Duration
}

// S3Config holds configuration for the S3 object backend.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint is a custom URL for S3-compatible providers (R2, MinIO).
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// Mode returns the adapter mode: the explicit one, or one inferred from
// which backend settings are present.
func (c Config) Mode() string {
	if m := strings.TrimSpace(c.Adapter); m != "" {
		return m
	}
	switch {
	case c.SQLDSN != "":
		return ModeSQL
	case c.RedisURL != "":
		return ModeRedis
	case c.S3.Bucket != "":
		return ModeS3
	default:
		return ModeFile
	}
}

// Factory constructs a MetricsStore from configuration.
type Factory func(ctx context.Context, cfg Config) (MetricsStore, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a custom adapter available as "custom:<name>".
// It panics on an empty name, a nil factory, or a duplicate name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" {
		panic("store: Register with empty name")
	}
	if f == nil {
		panic("store: Register factory is nil for " + name)
	}
	if _, dup := registry[name]; dup {
		panic("store: Register called twice for " + name)
	}
	registry[name] = f
}

// Lookup returns the custom adapter registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Registered returns the sorted names of all custom adapters.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// unregister removes name; used by tests.
func unregister(name string) {
	registryMu.Lock()
	delete(registry, name)
	registryMu.Unlock()
}

// ParseCustom splits "custom:<name>". ok is false for any other mode.
func ParseCustom(mode string) (name string, ok bool) {
	name, ok = strings.CutPrefix(mode, CustomPrefix)
	if !ok {
		return "", false
	}
	return name, true
}

// OpenCustom constructs the registered adapter for a "custom:<name>" mode.
func OpenCustom(ctx context.Context, mode string, cfg Config) (MetricsStore, error) {
	name, ok := ParseCustom(mode)
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid custom adapter mode %q", mode)
	}
	f, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("custom adapter %q is not registered (have %v)", name, Registered())
	}
	return f(ctx, cfg)
}
