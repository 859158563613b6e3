// Package cache provides tiered caching for GitHub API responses.
//
// Responses are cached in two tiers:
//
//   - Hot tier: bounded in-memory LRU holding the most recently touched
//     entries. Purely a latency optimization, never a system of record.
//   - Store tier: durable SQLite database that survives process restarts.
//
// The TieredCache facade unifies both tiers and adds ETag handling,
// per-category TTL assignment, stale-while-revalidate reads, and hit/miss
// accounting.
//
// # Basic Usage
//
//	tc, err := cache.New(cache.Config{Dir: "/var/cache/ghclient"})
//	if err != nil {
//		return err
//	}
//	defer tc.Close()
//
//	// Look up a response
//	lookup := tc.Get("https://api.github.com/repos/owner/name", nil)
//	if lookup.Found && lookup.Fresh {
//		// use lookup.Payload directly
//	}
//
//	// Store a response
//	err = tc.Set("https://api.github.com/repos/owner/name", payload, etag, nil, 0)
//
// # Stale Reads
//
// Expired entries are still returned by Get, flagged as not fresh, so callers
// can serve stale data while revalidating with a conditional request. For
// degraded or offline operation, GetStaleOk returns any entry younger than a
// caller-supplied maximum age regardless of expiry.
//
// # Categories and TTLs
//
// Each URL is classified into a category (pulls, issues, commits, ...) by an
// ordered predicate table, and the category selects a default TTL. The table
// of TTLs is policy, not invariant, and can be overridden via Config.TTLs.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - gh_cache_hits_total{tier} - cache hits by tier (hot, store, stale)
//   - gh_cache_misses_total - cache misses
//   - gh_cache_evictions_total - hot tier LRU evictions
//   - gh_cache_errors_total{operation} - store operation errors
package cache
