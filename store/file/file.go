// Package file is the default MetricsStore: two JSON documents in a directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/pulse/iox"
	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

const (
	// HistoryFile is the metrics history document.
	HistoryFile = "history.json"
	// LockFile is the job lock document.
	LockFile = "lock.json"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Store keeps history.json and lock.json under a directory.
// Writes are atomic replaces via iox.WriteFileAtomic.
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ store.MetricsStore = (*Store)(nil)

// New creates the directory if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, store.Wrap("init", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string {
	return s.dir
}

// GetHistory implements store.MetricsStore.
func (s *Store) GetHistory(ctx context.Context) (*types.MetricsHistory, error) {
	var h types.MetricsHistory
	found, err := s.read(ctx, "get_history", HistoryFile, &h)
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
	return s.write(ctx, "save_history", HistoryFile, h)
}

// GetLock implements store.MetricsStore.
func (s *Store) GetLock(ctx context.Context) (*types.Lock, error) {
	var l types.Lock
	found, err := s.read(ctx, "get_lock", LockFile, &l)
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
	return s.write(ctx, "set_lock", LockFile, l)
}

// ClearLock implements store.MetricsStore. Clearing an absent lock is not an error.
func (s *Store) ClearLock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, LockFile)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return store.Wrap("clear_lock", path, err)
	}
	return nil
}

// Close implements store.MetricsStore.
func (s *Store) Close() error {
	return nil
}

func (s *Store) read(ctx context.Context, op, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, store.Wrap(op, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, store.Corrupt(op, path, err)
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, op, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	if err := iox.WriteFileAtomic(path, data, filePerm); err != nil {
		return store.Wrap(op, path, err)
	}
	return nil
}
