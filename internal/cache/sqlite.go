package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labviz/molcache/pkg/types"
)

// SQLiteTier is the durable tier: payloads live in a single SQLite file
// and survive restarts.
type SQLiteTier struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Uint64
	misses atomic.Uint64
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS assets (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS assets_expires_at ON assets (expires_at)`,
}

// NewSQLiteTier opens (or creates) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteTier(path string, ttl time.Duration) (*SQLiteTier, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite tier: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serialises writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate sqlite tier: %w", err)
		}
	}

	return &SQLiteTier{db: db, ttl: ttl, now: time.Now}, nil
}

// Name implements types.TierBackend.
func (s *SQLiteTier) Name() string { return "sqlite" }

// Get returns the payload unless it is absent or expired.
func (s *SQLiteTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM assets WHERE key = ?`, key,
	).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite get %s: %w", key, err)
	}

	if expiresAt > 0 && s.now().UnixNano() >= expiresAt {
		s.misses.Add(1)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, key)
		return nil, false, nil
	}

	s.hits.Add(1)
	return data, true, nil
}

// Put stores data. A zero ttl uses the tier default; a zero default never expires.
func (s *SQLiteTier) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assets (key, data, size, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		key, data, len(data), now.UnixNano(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Absent keys are ignored.
func (s *SQLiteTier) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete %s: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and reports how many were removed.
func (s *SQLiteTier) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM assets WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

// TierStats implements types.StatsReporter.
func (s *SQLiteTier) TierStats() types.TierStats {
	st := types.TierStats{
		Backend: s.Name(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
	var bytes sql.NullInt64
	if err := s.db.QueryRow(`SELECT COUNT(*), SUM(size) FROM assets`).Scan(&st.Entries, &bytes); err == nil {
		st.Bytes = bytes.Int64
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// Close releases the database.
func (s *SQLiteTier) Close() error {
	return s.db.Close()
}
