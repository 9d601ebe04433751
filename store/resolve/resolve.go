// Package resolve selects and constructs the MetricsStore once at startup.
package resolve

import (
	"context"
	"fmt"

	"github.com/pithecene-io/pulse/log"
	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/store/file"
	"github.com/pithecene-io/pulse/store/object"
	"github.com/pithecene-io/pulse/store/redis"
	"github.com/pithecene-io/pulse/store/sqlite"
)

// DefaultPath is the file adapter directory when none is configured.
const DefaultPath = ".pulse"

// Resolved is the chosen adapter and how it was chosen.
type Resolved struct {
	Store store.MetricsStore
	// Backend is the mode actually in use ("file", "sql", "custom:x", ...).
	Backend string
	// Requested is the mode asked for before any fallback.
	Requested string
	// FellBack is true when the requested adapter failed and the file
	// adapter was substituted.
	FellBack bool
	// Reason is the failure that caused the fallback.
	Reason error
}

// Open constructs the adapter selected by cfg and validates it. If
// construction or validation fails, it logs a warning and falls back to the
// file adapter. Open fails only when the fallback itself cannot be built.
func Open(ctx context.Context, cfg store.Config, logger *log.Logger) (*Resolved, error) {
	logger = log.OrNop(logger)
	mode := cfg.Mode()

	s, err := build(ctx, mode, cfg)
	if err == nil {
		if err = store.Validate(ctx, s); err != nil && s != nil {
			_ = s.Close()
		}
	}
	if err == nil {
		logger.Debug("metrics store resolved", map[string]any{"backend": mode})
		return &Resolved{Store: s, Backend: mode, Requested: mode}, nil
	}

	if mode == store.ModeFile {
		return nil, fmt.Errorf("file store unavailable: %w", err)
	}

	logger.Warn("metrics store unavailable, falling back to file store", map[string]any{
		"requested": mode,
		"error":     err.Error(),
		"path":      filePath(cfg),
	})
	fb, fbErr := file.New(filePath(cfg))
	if fbErr != nil {
		return nil, fmt.Errorf("fallback file store: %w (after %s failed: %v)", fbErr, mode, err)
	}
	return &Resolved{
		Store:     fb,
		Backend:   store.ModeFile,
		Requested: mode,
		FellBack:  true,
		Reason:    err,
	}, nil
}

func build(ctx context.Context, mode string, cfg store.Config) (store.MetricsStore, error) {
	if _, ok := store.ParseCustom(mode); ok {
		return store.OpenCustom(ctx, mode, cfg)
	}
	switch mode {
	case store.ModeFile:
		return file.New(filePath(cfg))
	case store.ModeSQL:
		return sqlite.Open(ctx, cfg.SQLDSN)
	case store.ModeRedis:
		return redis.New(redis.Config{
			URL:     cfg.RedisURL,
			Prefix:  cfg.RedisPrefix,
			LockTTL: cfg.LockStaleAfter,
		})
	case store.ModeS3:
		return object.NewS3(ctx, cfg.S3)
	case store.ModeMemory:
		return object.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store adapter %q", mode)
	}
}

func filePath(cfg store.Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return DefaultPath
}
