package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/pulse/iox"
)

// CachePayload is a locally persisted response.
type CachePayload[T any] struct {
	Payload  T         `msgpack:"payload"`
	CachedAt time.Time `msgpack:"cached_at"`
}

// Persister stores the last good payload across process restarts.
type Persister[T any] interface {
	// Load returns nil, nil when nothing is persisted.
	Load(ctx context.Context) (*CachePayload[T], error)
	Save(ctx context.Context, p CachePayload[T]) error
}

// FilePersister keeps a msgpack-encoded payload in one file, replaced
// atomically on every save.
type FilePersister[T any] struct {
	path string
}

var _ Persister[struct{}] = (*FilePersister[struct{}])(nil)

// NewFilePersister creates a persister writing to path.
func NewFilePersister[T any](path string) *FilePersister[T] {
	return &FilePersister[T]{path: path}
}

// Path returns the backing file.
func (p *FilePersister[T]) Path() string { return p.path }

// Load implements Persister.
func (p *FilePersister[T]) Load(ctx context.Context) (*CachePayload[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.path, err)
	}
	var out CachePayload[T]
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.path, err)
	}
	return &out, nil
}

// Save implements Persister.
func (p *FilePersister[T]) Save(ctx context.Context, payload CachePayload[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return iox.WriteFileAtomic(p.path, data, 0o644)
}

// MemoryPersister keeps the payload in memory. Useful in tests and for
// short-lived processes.
type MemoryPersister[T any] struct {
	mu      sync.Mutex
	payload *CachePayload[T]
	Saves   int
}

// Load implements Persister.
func (m *MemoryPersister[T]) Load(_ context.Context) (*CachePayload[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payload == nil {
		return nil, nil
	}
	cp := *m.payload
	return &cp, nil
}

// Save implements Persister.
func (m *MemoryPersister[T]) Save(_ context.Context, p CachePayload[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload = &p
	m.Saves++
	return nil
}
