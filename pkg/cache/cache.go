package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-chatlink/pkg/logging"
	"github.com/dd0wney/cluso-chatlink/pkg/metrics"
)

const (
	// DefaultTTL is how long a cached page stays valid
	DefaultTTL = 5 * time.Minute
	// DefaultPrefix namespaces search pages inside a shared store
	DefaultPrefix = "search_cache_"

	snappyMarker byte = 0x00
)

// Entry is the envelope stored for one (query, page)
type Entry struct {
	Data      json.RawMessage `json:"data"`
	HasMore   bool            `json:"hasMore"`
	Total     int             `json:"total"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// StoredAt returns the entry's write time
func (e Entry) StoredAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Stats describes the entries under the cache prefix
type Stats struct {
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// Cache is a TTL cache of search pages on top of a Store
type Cache struct {
	store    Store
	ttl      time.Duration
	prefix   string
	compress bool
	now      func() time.Time
	logger   logging.Logger
	metrics  *metrics.Registry
}

// Option configures a Cache
type Option func(*Cache)

// WithTTL overrides DefaultTTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix overrides DefaultPrefix
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithCompression stores envelopes snappy-compressed
func WithCompression() Option {
	return func(c *Cache) { c.compress = true }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(logger logging.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over store
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
		now:    time.Now,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.Component("cache"))
	return c
}

// TTL returns the configured time-to-live
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Key derives the cache key for a page of query results. The filter is part
// of the key so filtered and unfiltered pages never collide.
func Key(query, filter string, page int) string {
	q := strings.TrimSpace(query)
	if filter != "" {
		q += "|" + filter
	}
	return q + "_" + strconv.Itoa(page)
}

// Get returns the entry stored under key if it is younger than the TTL.
// Store and decode failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	rec, ok, err := c.store.Get(ctx, c.prefix+key)
	if err != nil {
		c.logger.Warn("cache read failed", logging.String("key", key), logging.Error(err))
		c.metrics.RecordCacheLookup(false)
		return Entry{}, false
	}
	if !ok {
		c.metrics.RecordCacheLookup(false)
		return Entry{}, false
	}

	entry, err := c.decode(rec.Value)
	if err != nil {
		c.logger.Warn("cache entry unreadable", logging.String("key", key), logging.Error(err))
		c.metrics.RecordCacheLookup(false)
		return Entry{}, false
	}
	if c.now().Sub(entry.StoredAt()) >= c.ttl {
		c.metrics.RecordCacheLookup(false)
		return Entry{}, false
	}

	c.metrics.RecordCacheLookup(true)
	return entry, true
}

// Set stores data under key, stamping it with the current time
func (c *Cache) Set(ctx context.Context, key string, data any, hasMore bool, total int) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache data: %w", err)
	}
	now := c.now()
	entry := Entry{Data: raw, HasMore: hasMore, Total: total, Timestamp: now.UnixMilli()}

	value, err := c.encode(entry)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, Record{Key: c.prefix + key, Value: value, StoredAt: now}); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Stats counts valid and expired entries
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	valid, expired, err := c.store.Count(ctx, c.prefix, c.now().Add(-c.ttl))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Valid: valid, Expired: expired}, nil
}

// CleanExpired removes entries older than the TTL and returns how many went
func (c *Cache) CleanExpired(ctx context.Context) (int, error) {
	return c.store.DeleteBefore(ctx, c.prefix, c.now().Add(-c.ttl))
}

// Maintain inspects cache health and evicts expired entries when they
// outnumber valid ones by more than ratio (1.0 means "more expired than valid").
func (c *Cache) Maintain(ctx context.Context, ratio float64) (Stats, int, error) {
	stats, err := c.Stats(ctx)
	if err != nil {
		return Stats{}, 0, err
	}

	evicted := 0
	if float64(stats.Expired) > float64(stats.Valid)*ratio {
		evicted, err = c.CleanExpired(ctx)
		if err != nil {
			return stats, 0, err
		}
		c.logger.Debug("evicted expired cache entries",
			logging.Count(evicted), logging.Int("valid", stats.Valid))
	}
	c.metrics.RecordCacheStats(stats.Valid, stats.Expired-evicted, evicted)
	return stats, evicted, nil
}

// Clear removes every entry under the prefix
func (c *Cache) Clear(ctx context.Context) error {
	n, err := c.store.DeletePrefix(ctx, c.prefix)
	if err != nil {
		return err
	}
	c.logger.Debug("cache cleared", logging.Count(n))
	return nil
}

func (c *Cache) encode(entry Entry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	if !c.compress {
		return raw, nil
	}
	out := make([]byte, 1, 1+snappy.MaxEncodedLen(len(raw)))
	out[0] = snappyMarker
	return append(out, snappy.Encode(nil, raw)...), nil
}

// decode accepts plain and compressed envelopes regardless of the current
// setting, so toggling compression does not strand existing entries.
func (c *Cache) decode(value []byte) (Entry, error) {
	if len(value) == 0 {
		return Entry{}, errors.New("empty cache value")
	}
	raw := value
	if value[0] == snappyMarker {
		var err error
		raw, err = snappy.Decode(nil, value[1:])
		if err != nil {
			return Entry{}, fmt.Errorf("decompress cache entry: %w", err)
		}
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, nil
}
