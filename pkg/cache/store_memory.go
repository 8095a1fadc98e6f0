package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in a map. It does not survive the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, false, ErrClosed
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	rec.Value = append([]byte(nil), rec.Value...)
	return rec, true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec.Value = append([]byte(nil), rec.Value...)
	s.records[rec.Key] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Count(_ context.Context, prefix string, cutoff time.Time) (valid, expired int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, 0, ErrClosed
	}
	for k, rec := range s.records {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if rec.StoredAt.Before(cutoff) {
			expired++
		} else {
			valid++
		}
	}
	return valid, expired, nil
}

func (s *MemoryStore) DeleteBefore(_ context.Context, prefix string, cutoff time.Time) (int, error) {
	return s.deleteWhere(func(k string, rec Record) bool {
		return strings.HasPrefix(k, prefix) && rec.StoredAt.Before(cutoff)
	})
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	return s.deleteWhere(func(k string, _ Record) bool {
		return strings.HasPrefix(k, prefix)
	})
}

func (s *MemoryStore) deleteWhere(match func(string, Record) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for k, rec := range s.records {
		if match(k, rec) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Close drops all records
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = nil
	return nil
}
