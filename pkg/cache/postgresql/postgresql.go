package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moviepilot/mpagent/pkg/cache"
)

const DefaultTableName = "mpagent_cache"

type Store struct {
	pool  *pgxpool.Pool
	table string
}

type Opts struct {
	URI       string
	TableName string
}

func New(ctx context.Context, opts Opts) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	table := opts.TableName
	if table == "" {
		table = DefaultTableName
	}

	store := &Store{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
	}

	if err := store.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure table: %w", err)
	}

	return store, nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			region TEXT NOT NULL,
			key TEXT NOT NULL,
			value BYTEA NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (region, key)
		)
	`, s.table)

	if _, err := s.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key, region string) ([]byte, error) {
	selectSQL := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE region = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > $3)
	`, s.table)

	var value []byte

	err := s.pool.QueryRow(ctx, selectSQL, cache.RegionKey(region), key, time.Now()).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, region string) error {
	now := time.Now()

	var expiresAt *time.Time
	if t := cache.ExpiresAt(now, ttl); !t.IsZero() {
		expiresAt = &t
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (region, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (region, key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`, s.table)

	if _, err := s.pool.Exec(ctx, upsertSQL, cache.RegionKey(region), key, value, expiresAt, now); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key, region string) error {
	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE region = $1 AND key = $2`, s.table)

	if _, err := s.pool.Exec(ctx, deleteSQL, cache.RegionKey(region), key); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	return nil
}

func (s *Store) Items(ctx context.Context, region string) ([]cache.Item, error) {
	now := time.Now()

	// expired rows are purged on the way
	purgeSQL := fmt.Sprintf(`DELETE FROM %s WHERE region = $1 AND expires_at IS NOT NULL AND expires_at <= $2`, s.table)
	if _, err := s.pool.Exec(ctx, purgeSQL, cache.RegionKey(region), now); err != nil {
		return nil, fmt.Errorf("failed to purge expired entries: %w", err)
	}

	selectSQL := fmt.Sprintf(`
		SELECT key, value, expires_at FROM %s
		WHERE region = $1 ORDER BY key
	`, s.table)

	rows, err := s.pool.Query(ctx, selectSQL, cache.RegionKey(region))
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var items []cache.Item
	for rows.Next() {
		var item cache.Item
		var expiresAt *time.Time

		if err := rows.Scan(&item.Key, &item.Value, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		if expiresAt != nil {
			item.ExpiresAt = *expiresAt
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}

	return items, nil
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
