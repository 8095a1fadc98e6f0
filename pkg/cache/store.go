// Package cache holds search results for a bounded time. Entries live in a
// Store (in-memory, SQLite or PostgreSQL) as JSON envelopes and are treated
// as absent once they are older than the cache TTL.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores after Close
var ErrClosed = errors.New("cache store closed")

// Record is one stored value
type Record struct {
	Key      string
	Value    []byte
	StoredAt time.Time
}

// Store is the key-value backend behind a Cache. Writes are last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, key string) error
	// Count returns how many records under prefix were stored at or after
	// cutoff (valid) and before it (expired).
	Count(ctx context.Context, prefix string, cutoff time.Time) (valid, expired int, err error)
	// DeleteBefore removes records under prefix stored before cutoff.
	DeleteBefore(ctx context.Context, prefix string, cutoff time.Time) (int, error)
	// DeletePrefix removes every record under prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}
