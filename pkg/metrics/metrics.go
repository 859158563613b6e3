// Package metrics provides the centralized Prometheus metrics registry for
// the GitHub client. All metrics are defined in their respective packages
// (client, cache, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the GitHub client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - gh_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - gh_rate_limit_waits_total (Counter): Requests suspended waiting for the window reset
//   - gh_rate_limit_wait_seconds (Histogram): Duration of rate limit waits
//
// Cache Metrics (pkg/cache):
//   - gh_cache_hits_total{tier} (Counter): Cache hits by tier (hot, store, stale)
//   - gh_cache_misses_total (Counter): Cache misses
//   - gh_cache_evictions_total (Counter): Hot tier LRU evictions
//   - gh_304_responses_total (Counter): 304 Not Modified responses served from cache
//   - gh_cache_errors_total{operation} (Counter): Cache store operation errors
//
// Request Metrics (pkg/client):
//   - gh_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - gh_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - gh_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - gh_retries_total{error_class} (Counter): Retry attempts by error class
//   - gh_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - gh_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gh_cache_hits_total[5m])) /
//   (sum(rate(gh_cache_hits_total[5m])) + sum(rate(gh_cache_misses_total[5m])))
//
//   # Rate Limit Budget
//   gh_rate_limit_remaining < 100
//
//   # Request Error Rate
//   rate(gh_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(gh_request_duration_seconds_bucket[5m]))
//
//   # 304 Response Rate
//   rate(gh_304_responses_total[5m]) / rate(gh_requests_total[5m])
