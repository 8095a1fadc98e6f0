package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSearchMetrics() {
	r.SearchCyclesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_cycles_total",
			Help:      "Completed search cycles",
		},
		[]string{"mode", "source"}, // local|remote, local|cache|fetch
	)

	r.SearchFetchDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_fetch_duration_seconds",
			Help:      "Duration of remote fetch calls including retries",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind"}, // search, default
	)

	r.SearchRetriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_retries_total",
			Help:      "Fetch attempts beyond the first",
		},
	)

	r.SearchErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_errors_total",
			Help:      "Search cycles that ended in an error",
		},
		[]string{"reason"}, // offline, timeout, fetch
	)

	r.SearchStaleTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_stale_discarded_total",
			Help:      "Responses discarded because a newer query superseded them",
		},
	)

	r.CacheLookupsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Search cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	r.CacheEvictionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Expired cache entries removed by maintenance",
		},
	)

	r.CacheEntries = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Search cache entries at the last stats pass",
		},
		[]string{"state"}, // valid, expired
	)
}
