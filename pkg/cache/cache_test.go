package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func decodeContacts(t *testing.T, e Entry) []contact {
	t.Helper()
	var out []contact
	if err := json.Unmarshal(e.Data, &out); err != nil {
		t.Fatalf("decode entry data: %v", err)
	}
	return out
}

func TestKey(t *testing.T) {
	tests := []struct {
		query, filter string
		page          int
		want          string
	}{
		{"ali", "", 1, "ali_1"},
		{"  ali ", "", 2, "ali_2"},
		{"Ali", "", 1, "Ali_1"},
		{"ali", "unread", 1, "ali|unread_1"},
		{"", "", 3, "_3"},
	}
	for _, tt := range tests {
		if got := Key(tt.query, tt.filter, tt.page); got != tt.want {
			t.Errorf("Key(%q, %q, %d) = %q, want %q", tt.query, tt.filter, tt.page, got, tt.want)
		}
	}
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(NewMemoryStore(), WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()

	data := []contact{{Name: "Alice", Phone: "1"}, {Name: "Alicia", Phone: "2"}}
	if err := c.Set(ctx, Key("ali", "", 1), data, true, 42); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock.Advance(59 * time.Second)
	entry, ok := c.Get(ctx, Key("ali", "", 1))
	if !ok {
		t.Fatal("expected hit before TTL")
	}
	if !entry.HasMore || entry.Total != 42 {
		t.Errorf("entry meta = %+v", entry)
	}
	if got := decodeContacts(t, entry); len(got) != 2 || got[1].Name != "Alicia" {
		t.Errorf("data = %+v", got)
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, Key("ali", "", 1)); ok {
		t.Error("expected miss at TTL")
	}
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	c := New(NewMemoryStore())
	if _, ok := c.Get(context.Background(), "nope_1"); ok {
		t.Error("expected miss")
	}
}

func TestCacheCompression(t *testing.T) {
	store := NewMemoryStore()
	clock := newFakeClock()
	ctx := context.Background()

	compressed := New(store, WithCompression(), WithClock(clock.Now))
	if err := compressed.Set(ctx, "bob_1", []contact{{Name: "Bob"}}, false, 1); err != nil {
		t.Fatal(err)
	}

	rec, ok, err := store.Get(ctx, DefaultPrefix+"bob_1")
	if err != nil || !ok {
		t.Fatalf("raw record missing: %v", err)
	}
	if rec.Value[0] != snappyMarker {
		t.Errorf("expected compressed marker, got %q", rec.Value[0])
	}

	plain := New(store, WithClock(clock.Now))
	entry, ok := plain.Get(ctx, "bob_1")
	if !ok {
		t.Fatal("plain cache should read compressed entries")
	}
	if got := decodeContacts(t, entry); got[0].Name != "Bob" {
		t.Errorf("data = %+v", got)
	}
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Put(ctx, Record{Key: DefaultPrefix + "bad_1", Value: []byte("{not json"), StoredAt: time.Now()})

	c := New(store)
	if _, ok := c.Get(ctx, "bad_1"); ok {
		t.Error("corrupt entry should be a miss")
	}
}

func TestCacheStatsAndMaintain(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	c := New(store, WithClock(clock.Now), WithTTL(time.Minute))
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_ = c.Set(ctx, Key(q, "", 1), []contact{}, false, 0)
	}
	clock.Advance(2 * time.Minute)
	_ = c.Set(ctx, Key("d", "", 1), []contact{}, false, 0)

	// Entries outside the prefix are never counted or removed.
	_ = store.Put(ctx, Record{Key: "other_x", Value: []byte("{}"), StoredAt: clock.Now().Add(-time.Hour)})

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Valid != 1 || stats.Expired != 3 {
		t.Fatalf("stats = %+v, want 1 valid 3 expired", stats)
	}

	// 3 expired vs 1 valid at ratio 5: not dominant enough.
	if _, evicted, _ := c.Maintain(ctx, 5); evicted != 0 {
		t.Errorf("evicted %d at ratio 5", evicted)
	}
	if _, evicted, _ := c.Maintain(ctx, 1); evicted != 3 {
		t.Errorf("evicted %d at ratio 1, want 3", evicted)
	}

	stats, _ = c.Stats(ctx)
	if stats.Valid != 1 || stats.Expired != 0 {
		t.Errorf("stats after maintain = %+v", stats)
	}
	if _, ok, _ := store.Get(ctx, "other_x"); !ok {
		t.Error("foreign key should survive maintenance")
	}
}

func TestCacheClear(t *testing.T) {
	store := NewMemoryStore()
	c := New(store)
	ctx := context.Background()

	_ = c.Set(ctx, "a_1", []contact{}, false, 0)
	_ = c.Set(ctx, "b_1", []contact{}, false, 0)
	_ = store.Put(ctx, Record{Key: "keep", Value: []byte("{}"), StoredAt: time.Now()})

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	stats, _ := c.Stats(ctx)
	if stats.Valid+stats.Expired != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}
	if _, ok, _ := store.Get(ctx, "keep"); !ok {
		t.Error("Clear removed a key outside the prefix")
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Close()
	if _, _, err := s.Get(context.Background(), "x"); err != ErrClosed {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if err := s.Put(context.Background(), Record{Key: "x"}); err != ErrClosed {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
}

// TestCacheRoundTripProperty checks that any value written is read back
// unchanged before the TTL and is absent from the TTL onwards.
func TestCacheRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("read before TTL returns written data", prop.ForAll(
		func(query string, page int, names []string, ageSec int, compress bool) bool {
			clock := newFakeClock()
			opts := []Option{WithClock(clock.Now), WithTTL(time.Minute)}
			if compress {
				opts = append(opts, WithCompression())
			}
			c := New(NewMemoryStore(), opts...)
			ctx := context.Background()
			key := Key(query, "", page)

			if err := c.Set(ctx, key, names, false, len(names)); err != nil {
				return false
			}
			clock.Advance(time.Duration(ageSec) * time.Second)

			entry, ok := c.Get(ctx, key)
			if ageSec >= 60 {
				return !ok
			}
			if !ok {
				return false
			}
			var got []string
			if err := json.Unmarshal(entry.Data, &got); err != nil {
				return false
			}
			if len(got) != len(names) {
				return false
			}
			for i := range got {
				if got[i] != names[i] {
					return false
				}
			}
			return entry.Total == len(names)
		},
		gen.AlphaString(),
		gen.IntRange(1, 50),
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 120),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
