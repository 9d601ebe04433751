// Package store defines the persistence boundary for the update job's
// working document and its advisory lock.
//
// Adapters live in subpackages (file, sqlite, redis, object). The adapter is
// chosen once at startup by the resolve subpackage and never changes for the
// life of the process.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/pulse/types"
)

// MetricsStore persists the metrics history document and the job lock.
//
// GetHistory and GetLock return (nil, nil) when nothing has been stored.
// SaveHistory replaces the whole document; it is the job's checkpoint unit.
type MetricsStore interface {
	GetHistory(ctx context.Context) (*types.MetricsHistory, error)
	SaveHistory(ctx context.Context, h *types.MetricsHistory) error
	GetLock(ctx context.Context) (*types.Lock, error)
	SetLock(ctx context.Context, l *types.Lock) error
	ClearLock(ctx context.Context) error
	Close() error
}

// ErrNilStore is returned by Validate for a nil adapter.
var ErrNilStore = errors.New("store adapter is nil")

// Validate probes s before it is trusted. An adapter must be non-nil and
// answer GetLock without error.
func Validate(ctx context.Context, s MetricsStore) error {
	if s == nil {
		return ErrNilStore
	}
	if _, err := s.GetLock(ctx); err != nil {
		return fmt.Errorf("store probe failed: %w", err)
	}
	return nil
}
