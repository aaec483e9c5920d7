// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movie_cache_hits_total",
			Help: "Total number of recommendation cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movie_cache_misses_total",
			Help: "Total number of recommendation cache misses, expired entries included",
		},
		[]string{"backend"},
	)

	CacheSets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movie_cache_sets_total",
			Help: "Total number of recommendation cache writes",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movie_cache_errors_total",
			Help: "Cache backend failures that were treated as misses",
		},
		[]string{"backend", "operation"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movie_cache_entries",
			Help: "Current number of entries held by the in-memory cache",
		},
	)

	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Duration of movie catalog API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_circuit_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RouterTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_transitions_total",
			Help: "Conversation router state transitions",
		},
		[]string{"from", "to"},
	)

	FallbackResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_responses_total",
			Help: "Fallback responses produced, by outcome",
		},
		[]string{"outcome"},
	)
)
