package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a local SQLite file so cached search
// pages survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the cache database at path. ":memory:"
// gives each store its own private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	memory := path == ":memory:"
	if memory {
		dsn = fmt.Sprintf("file:chatlink-%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	if !memory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_stored_at ON cache_entries(stored_at);
	`)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	rec := Record{Key: key}
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&rec.Value, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	rec.StoredAt = time.UnixMilli(storedAt)
	return rec, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at`,
		rec.Key, rec.Value, rec.StoredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// prefix matching uses substr so that '_' and '%' in prefixes stay literal
func (s *SQLiteStore) Count(ctx context.Context, prefix string, cutoff time.Time) (valid, expired int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN stored_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN stored_at < ? THEN 1 ELSE 0 END), 0)
		FROM cache_entries
		WHERE substr(key, 1, length(?)) = ?`,
		cutoff.UnixMilli(), cutoff.UnixMilli(), prefix, prefix,
	).Scan(&valid, &expired)
	if err != nil {
		return 0, 0, fmt.Errorf("count cache entries: %w", err)
	}
	return valid, expired, nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, prefix string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE substr(key, 1, length(?)) = ? AND stored_at < ?`,
		prefix, prefix, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return 0, fmt.Errorf("clear cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
