package cache

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// dbFileName is the store tier database file inside Config.Dir.
const dbFileName = "api_cache.db"

// Config holds the tiered cache configuration.
type Config struct {
	// Dir is the directory holding the store tier database.
	Dir string

	// HotCapacity bounds the in-memory tier (default 1000).
	HotCapacity int

	// TTLs overrides per-category TTLs; unlisted categories keep their
	// defaults.
	TTLs map[Category]time.Duration

	// Logger is the component logger. Uses the global logger when zero.
	Logger *zerolog.Logger
}

// Lookup is the result of a cache read.
type Lookup struct {
	// Payload is the cached response body, nil when Found is false.
	Payload []byte

	// ETag is the stored validator, if the server sent one.
	ETag string

	// Fresh is true when the entry has not passed its expiry. Stale entries
	// are still returned with Fresh=false to support stale-while-revalidate.
	Fresh bool

	// Found reports whether either tier held the entry.
	Found bool
}

// TieredCache unifies the hot and store tiers behind one get/set contract.
// It is the sole owner of both tiers; construct it explicitly and Close it
// on shutdown.
type TieredCache struct {
	store  *Store
	hot    *HotCache
	ttls   map[Category]time.Duration
	logger zerolog.Logger

	totalRequests   atomic.Int64
	hotHits         atomic.Int64
	storeHits       atomic.Int64
	staleHits       atomic.Int64
	misses          atomic.Int64
	conditionalHits atomic.Int64
	bytesSaved      atomic.Int64
}

// New creates a tiered cache rooted at cfg.Dir.
func New(cfg Config) (*TieredCache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache dir is required")
	}

	store, err := NewStore(filepath.Join(cfg.Dir, dbFileName))
	if err != nil {
		return nil, err
	}

	ttls := DefaultTTLs()
	for category, ttl := range cfg.TTLs {
		ttls[category] = ttl
	}

	logger := log.With().Str("component", "cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &TieredCache{
		store:  store,
		hot:    NewHotCache(cfg.HotCapacity),
		ttls:   ttls,
		logger: logger,
	}, nil
}

// Get looks up the cached response for (url, params). Hot tier first; on a
// store-tier hit the entry is promoted into the hot tier and its access
// bookkeeping is updated. Expired entries are returned with Fresh=false.
func (t *TieredCache) Get(rawURL string, params url.Values) Lookup {
	t.totalRequests.Add(1)
	key := Key(rawURL, params)

	if entry, ok := t.hot.Get(key); ok {
		t.hotHits.Add(1)
		cacheHits.WithLabelValues("hot").Inc()
		return Lookup{Payload: entry.Payload, ETag: entry.ETag, Fresh: !entry.IsExpired(), Found: true}
	}

	entry, ok, err := t.store.Get(key)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache store get failed")
	}
	if ok {
		if err := t.store.Touch(key); err != nil {
			t.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache store touch failed")
		}
		t.hot.Put(key, HotEntry{Payload: entry.Payload, ETag: entry.ETag, ExpiresAt: entry.ExpiresAt})

		fresh := !entry.IsExpired()
		if fresh {
			t.storeHits.Add(1)
			cacheHits.WithLabelValues("store").Inc()
		} else {
			t.staleHits.Add(1)
			cacheHits.WithLabelValues("stale").Inc()
		}
		return Lookup{Payload: entry.Payload, ETag: entry.ETag, Fresh: fresh, Found: true}
	}

	t.misses.Add(1)
	cacheMisses.Inc()
	return Lookup{}
}

// Set stores a response in both tiers. The TTL is ttlOverride when positive,
// otherwise the per-category default for the URL's category.
func (t *TieredCache) Set(rawURL string, payload []byte, etag string, params url.Values, ttlOverride time.Duration) error {
	key := Key(rawURL, params)
	category := Categorize(rawURL)
	ttl := t.TTLFor(category)
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	now := time.Now()
	entry := &Entry{
		Key:          key,
		URL:          rawURL,
		Payload:      payload,
		ETag:         etag,
		Category:     category,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		SizeBytes:    int64(len(payload)),
	}

	t.hot.Put(key, HotEntry{Payload: payload, ETag: etag, ExpiresAt: entry.ExpiresAt})

	if err := t.store.Set(entry); err != nil {
		return err
	}

	t.logger.Debug().
		Str("url", rawURL).
		Str("category", string(category)).
		Dur("ttl", ttl).
		Int("size_bytes", len(payload)).
		Msg("Cached response")
	return nil
}

// GetStaleOk returns any cached payload younger than maxAge, regardless of
// expiry, for offline or degraded operation. The second return reports
// whether the entry is stale; the third whether anything was found.
func (t *TieredCache) GetStaleOk(rawURL string, params url.Values, maxAge time.Duration) ([]byte, bool, bool) {
	key := Key(rawURL, params)

	if entry, ok := t.hot.Get(key); ok {
		t.staleHits.Add(1)
		cacheHits.WithLabelValues("stale").Inc()
		return entry.Payload, entry.IsExpired(), true
	}

	entry, ok, err := t.store.GetFresherThan(key, time.Now().Add(-maxAge))
	if err != nil {
		t.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache stale lookup failed")
	}
	if !ok {
		return nil, false, false
	}

	t.staleHits.Add(1)
	cacheHits.WithLabelValues("stale").Inc()
	return entry.Payload, entry.IsExpired(), true
}

// Invalidate deletes matching store entries and clears the hot tier so no
// orphaned hot entries outlive their store rows.
func (t *TieredCache) Invalidate(urlPattern string, category Category) error {
	if err := t.store.Invalidate(urlPattern, category); err != nil {
		return err
	}
	t.hot.Clear()

	t.logger.Info().
		Str("pattern", urlPattern).
		Str("category", string(category)).
		Msg("Cache invalidated")
	return nil
}

// Cleanup removes expired store rows (or rows older than maxAge when
// positive), reclaims freed space, and clears the hot tier.
func (t *TieredCache) Cleanup(maxAge time.Duration) error {
	if err := t.store.CleanupExpired(maxAge); err != nil {
		return err
	}
	t.hot.Clear()
	return nil
}

// RecordConditionalHit counts a 304 Not Modified revalidation. bytesSaved is
// the size of the cached payload that did not have to be re-downloaded.
func (t *TieredCache) RecordConditionalHit(bytesSaved int64) {
	t.conditionalHits.Add(1)
	t.bytesSaved.Add(bytesSaved)
	notModifiedResponses.Inc()
}

// TTLFor returns the configured TTL for a category.
func (t *TieredCache) TTLFor(category Category) time.Duration {
	if ttl, ok := t.ttls[category]; ok {
		return ttl
	}
	return t.ttls[CategoryDefault]
}

// Stats holds merged counters for both tiers. The in-process counters are
// monotonically non-decreasing within a process lifetime; store aggregates
// reflect the durable tier at call time.
type Stats struct {
	TotalRequests   int64
	HotHits         int64
	StoreHits       int64
	StaleHits       int64
	Misses          int64
	ConditionalHits int64
	BytesSaved      int64
	HitRate         float64

	EntryCount int64
	TotalBytes int64
	TotalHits  int64
	FreshCount int64
}

// Stats returns a snapshot of cache statistics.
func (t *TieredCache) Stats() (Stats, error) {
	st := Stats{
		TotalRequests:   t.totalRequests.Load(),
		HotHits:         t.hotHits.Load(),
		StoreHits:       t.storeHits.Load(),
		StaleHits:       t.staleHits.Load(),
		Misses:          t.misses.Load(),
		ConditionalHits: t.conditionalHits.Load(),
		BytesSaved:      t.bytesSaved.Load(),
	}
	if st.TotalRequests > 0 {
		st.HitRate = float64(st.TotalRequests-st.Misses) / float64(st.TotalRequests) * 100
	}

	storeStats, err := t.store.Stats()
	if err != nil {
		return st, err
	}
	st.EntryCount = storeStats.EntryCount
	st.TotalBytes = storeStats.TotalBytes
	st.TotalHits = storeStats.TotalHits
	st.FreshCount = storeStats.FreshCount
	return st, nil
}

// LogStats emits the current statistics at info level.
func (t *TieredCache) LogStats() {
	st, err := t.Stats()
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to collect cache stats")
		return
	}

	t.logger.Info().
		Int64("total_requests", st.TotalRequests).
		Int64("hot_hits", st.HotHits).
		Int64("store_hits", st.StoreHits).
		Int64("stale_hits", st.StaleHits).
		Int64("misses", st.Misses).
		Int64("conditional_hits", st.ConditionalHits).
		Float64("hit_rate_pct", st.HitRate).
		Int64("entries", st.EntryCount).
		Int64("fresh_entries", st.FreshCount).
		Int64("total_bytes", st.TotalBytes).
		Int64("bytes_saved", st.BytesSaved).
		Msg("Cache statistics")
}

// Close flushes nothing (writes are synchronous) and releases the store.
func (t *TieredCache) Close() error {
	t.hot.Clear()
	return t.store.Close()
}
