package health

import (
	"context"
	"time"
)

// Common health check functions

// AliveCheck always reports healthy; it backs the liveness endpoint
func AliveCheck(name string) CheckFunc {
	return func(context.Context) Check {
		return Check{
			Name:        name,
			Status:      StatusHealthy,
			LastChecked: time.Now(),
		}
	}
}

// ConnectionState is what ConnectionCheck needs from the socket manager
type ConnectionState struct {
	Status      string
	Attempts    int
	MaxAttempts int
	LastError   string
	Latency     time.Duration
	Queued      int
	Pending     int
}

// ConnectionCheck reports the real-time connection. Reconnecting is
// degraded; disconnected with retries exhausted (or never started) is
// unhealthy.
func ConnectionCheck(getState func() ConnectionState) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "connection",
			Details: make(map[string]any),
		}

		s := getState()

		check.Details["status"] = s.Status
		check.Details["attempts"] = s.Attempts
		check.Details["latency_ms"] = s.Latency.Milliseconds()
		check.Details["queued_events"] = s.Queued
		check.Details["pending_requests"] = s.Pending
		if s.LastError != "" {
			check.Details["last_error"] = s.LastError
		}

		switch {
		case s.Status == "connected":
			check.Status = StatusHealthy
			check.Message = "Connected"
		case s.Status == "connecting" || (s.Attempts > 0 && s.Attempts < s.MaxAttempts):
			check.Status = StatusDegraded
			check.Message = "Reconnecting"
		case s.MaxAttempts > 0 && s.Attempts >= s.MaxAttempts:
			check.Status = StatusUnhealthy
			check.Message = "Reconnect attempts exhausted"
		default:
			check.Status = StatusUnhealthy
			check.Message = "Disconnected"
		}

		return check
	}
}

// ReachabilityCheck reports internet reachability. Offline mode and an
// unreachable internet are degraded rather than unhealthy since the agent
// keeps queueing.
func ReachabilityCheck(getStatus func() (connected, reachable, offline bool)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "network",
			Details: make(map[string]any),
		}

		connected, reachable, offline := getStatus()

		check.Details["connected"] = connected
		check.Details["reachable"] = reachable
		check.Details["offline_mode"] = offline

		if offline {
			check.Status = StatusDegraded
			check.Message = "Offline mode"
		} else if !connected {
			check.Status = StatusDegraded
			check.Message = "No network link"
		} else if !reachable {
			check.Status = StatusDegraded
			check.Message = "Internet unreachable"
		} else {
			check.Status = StatusHealthy
			check.Message = "Online"
		}

		return check
	}
}

// StoreCheck pings a cache store backend
func StoreCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name: "cache_store",
		}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// CacheCheck reports search cache occupancy. A cache holding more expired
// than valid entries means maintenance is falling behind.
func CacheCheck(getStats func(ctx context.Context) (valid, expired int, err error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "search_cache",
			Details: make(map[string]any),
		}

		valid, expired, err := getStats(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["valid"] = valid
		check.Details["expired"] = expired

		if expired > valid && expired > 0 {
			check.Status = StatusDegraded
			check.Message = "Mostly expired entries"
		} else {
			check.Status = StatusHealthy
			check.Message = "Cache healthy"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
