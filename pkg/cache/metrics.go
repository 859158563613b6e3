package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks cache hits by tier (hot, store, stale)
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gh_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"}, // "hot", "store", "stale"
	)

	// cacheMisses tracks lookups absent from both tiers
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gh_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// cacheEvictions tracks hot tier LRU evictions
	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gh_cache_evictions_total",
			Help: "Total number of hot tier LRU evictions",
		},
	)

	// notModifiedResponses tracks 304 Not Modified revalidations
	notModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gh_304_responses_total",
			Help: "Total number of 304 Not Modified responses served from cache",
		},
	)

	// cacheErrors tracks store operation errors
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gh_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "invalidate", "cleanup", "stats"
	)
)
