package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore shares cached search pages between agents through PostgreSQL
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to databaseURL and creates the cache table if needed
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 8
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	s := &PGStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS chatlink_cache_entries (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		stored_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chatlink_cache_stored_at ON chatlink_cache_entries(stored_at);
	`)
	return err
}

// Ping checks database connectivity
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGStore) Get(ctx context.Context, key string) (Record, bool, error) {
	rec := Record{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT value, stored_at FROM chatlink_cache_entries WHERE key = $1`, key,
	).Scan(&rec.Value, &rec.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return rec, true, nil
}

func (s *PGStore) Put(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chatlink_cache_entries (key, value, stored_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, stored_at = EXCLUDED.stored_at`,
		rec.Key, rec.Value, rec.StoredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chatlink_cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *PGStore) Count(ctx context.Context, prefix string, cutoff time.Time) (valid, expired int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE stored_at >= $2),
			COUNT(*) FILTER (WHERE stored_at < $2)
		FROM chatlink_cache_entries
		WHERE left(key, length($1)) = $1`,
		prefix, cutoff,
	).Scan(&valid, &expired)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return valid, expired, nil
}

func (s *PGStore) DeleteBefore(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM chatlink_cache_entries
		WHERE left(key, length($1)) = $1 AND stored_at < $2`,
		prefix, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chatlink_cache_entries WHERE left(key, length($1)) = $1`, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the connection pool
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
