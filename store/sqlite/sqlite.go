// Package sqlite is a MetricsStore backed by a single-file SQLite database.
//
// Each document is a single row. SaveHistory is an upsert inside a
// transaction, so the whole document stays the checkpoint unit.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pithecene-io/pulse/store"
	"github.com/pithecene-io/pulse/types"
)

//go:embed schema.sql
var schema string

// Store provides SQLite-backed history and lock persistence.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.MetricsStore = (*Store)(nil)

// Open opens (creating if needed) the database at dsn and applies the schema.
// A bare path gets WAL and busy-timeout pragmas; a DSN with query parameters
// is used as given. ":memory:" opens a private in-memory database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn = filepath.Clean(dsn) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, store.Wrap("init", dsn, fmt.Errorf("open sqlite db: %w", err))
	}
	// One connection: ":memory:" databases are per-connection and the
	// document rows are tiny.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.Wrap("init", dsn, fmt.Errorf("ping sqlite db: %w", err))
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, store.Wrap("init", dsn, fmt.Errorf("apply schema: %w", err))
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetHistory implements store.MetricsStore.
func (s *Store) GetHistory(ctx context.Context) (*types.MetricsHistory, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM metrics_history WHERE id = 1`).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap("get_history", "metrics_history", err)
	}
	var h types.MetricsHistory
	if err := json.Unmarshal([]byte(doc), &h); err != nil {
		return nil, store.Corrupt("get_history", "metrics_history", err)
	}
	return &h, nil
}

// SaveHistory implements store.MetricsStore.
func (s *Store) SaveHistory(ctx context.Context, h *types.MetricsHistory) error {
	if h == nil {
		return errors.New("save_history: nil history")
	}
	doc, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("save_history: marshal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap("save_history", "metrics_history", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO metrics_history (id, document, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
`, string(doc), s.now().UTC().UnixMilli())
	if err != nil {
		return store.Wrap("save_history", "metrics_history", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Wrap("save_history", "metrics_history", err)
	}
	return nil
}

// GetLock implements store.MetricsStore.
func (s *Store) GetLock(ctx context.Context) (*types.Lock, error) {
	var (
		startedAt int64
		pid       sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT started_at, pid FROM job_lock WHERE id = 1`).Scan(&startedAt, &pid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap("get_lock", "job_lock", err)
	}
	l := &types.Lock{StartedAt: time.UnixMilli(startedAt).UTC()}
	if pid.Valid {
		p := int(pid.Int64)
		l.PID = &p
	}
	return l, nil
}

// SetLock implements store.MetricsStore.
func (s *Store) SetLock(ctx context.Context, l *types.Lock) error {
	if l == nil {
		return errors.New("set_lock: nil lock")
	}
	var pid sql.NullInt64
	if l.PID != nil {
		pid = sql.NullInt64{Int64: int64(*l.PID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_lock (id, started_at, pid) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at, pid = excluded.pid
`, l.StartedAt.UTC().UnixMilli(), pid)
	if err != nil {
		return store.Wrap("set_lock", "job_lock", err)
	}
	return nil
}

// ClearLock implements store.MetricsStore.
func (s *Store) ClearLock(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_lock WHERE id = 1`); err != nil {
		return store.Wrap("clear_lock", "job_lock", err)
	}
	return nil
}
