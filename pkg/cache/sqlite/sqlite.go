package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moviepilot/mpagent/pkg/cache"
	_ "modernc.org/sqlite"
)

// Store keeps entries in a single SQLite file. Expiry timestamps are unix
// milliseconds, zero meaning no expiry.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			region TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (region, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expiry ON cache_entries(expires_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite cache: %w", err)
		}
	}

	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *Store) Get(ctx context.Context, key, region string) ([]byte, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries
		 WHERE region = ? AND key = ? AND (expires_at_ms = 0 OR expires_at_ms > ?)`,
		cache.RegionKey(region), key, s.now().UnixMilli(),
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error {
	now := s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (region, key, value, expires_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(region, key) DO UPDATE SET
		   value = excluded.value,
		   expires_at_ms = excluded.expires_at_ms,
		   updated_at_ms = excluded.updated_at_ms`,
		cache.RegionKey(region), key, value, toMillis(cache.ExpiresAt(now, ttl)), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key, region string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE region = ? AND key = ?`,
		cache.RegionKey(region), key,
	)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}

	return nil
}

func (s *Store) Items(ctx context.Context, region string) ([]cache.Item, error) {
	now := s.now().UnixMilli()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE region = ? AND expires_at_ms != 0 AND expires_at_ms <= ?`,
		cache.RegionKey(region), now,
	); err != nil {
		return nil, fmt.Errorf("purge expired cache entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, expires_at_ms FROM cache_entries WHERE region = ? ORDER BY key`,
		cache.RegionKey(region),
	)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var items []cache.Item
	for rows.Next() {
		var item cache.Item
		var expiresAtMs int64

		if err := rows.Scan(&item.Key, &item.Value, &expiresAtMs); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}

		if expiresAtMs != 0 {
			item.ExpiresAt = time.UnixMilli(expiresAtMs)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
