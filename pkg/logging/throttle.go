package logging

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxThrottleKeys = 100

// Throttled wraps a logger so that identical debug messages are emitted at
// most once per interval. Info and above always pass through.
type Throttled struct {
	Logger
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottled wraps logger with per-message debug throttling
func NewThrottled(logger Logger, interval time.Duration) *Throttled {
	return &Throttled{
		Logger:   logger,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Debug logs msg unless the same message was logged within the interval
func (t *Throttled) Debug(msg string, fields ...Field) {
	if !t.allow(msg) {
		return
	}
	t.Logger.Debug(msg, fields...)
}

// With keeps throttling on the child logger
func (t *Throttled) With(fields ...Field) Logger {
	return NewThrottled(t.Logger.With(fields...), t.interval)
}

func (t *Throttled) allow(msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim, ok := t.limiters[msg]
	if !ok {
		if len(t.limiters) >= maxThrottleKeys {
			// Limiters that are full again carry no state worth keeping.
			now := time.Now()
			for k, l := range t.limiters {
				if l.TokensAt(now) >= 1 {
					delete(t.limiters, k)
				}
			}
		}
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[msg] = lim
	}
	return lim.Allow()
}
