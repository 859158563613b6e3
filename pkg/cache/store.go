package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable cache tier, backed by a SQLite database. Entries
// persist across process restarts and are only removed by invalidation or
// cleanup, never by LRU pressure.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	payload BLOB NOT NULL,
	etag TEXT,
	category TEXT NOT NULL,
	created_at REAL NOT NULL,
	expires_at REAL NOT NULL,
	last_accessed REAL NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_expires ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_category ON cache_entries(category);
CREATE INDEX IF NOT EXISTS idx_accessed ON cache_entries(last_accessed);
`

// NewStore opens (or creates) the store database at dbPath. The parent
// directory is created if missing. WAL mode keeps concurrent readers from
// blocking on writers; each write is a single statement and therefore atomic
// per key.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA busy_timeout=5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure cache db: %w", err)
		}
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the persisted entry for key regardless of freshness. Callers
// compare ExpiresAt against the current time to classify the entry.
func (s *Store) Get(key string) (*Entry, bool, error) {
	return s.scanOne(
		`SELECT key, url, payload, etag, category, created_at, expires_at, last_accessed, hit_count, size_bytes
		 FROM cache_entries WHERE key = ?`, key)
}

// GetFresherThan returns the entry for key only if it was created after
// cutoff, regardless of expiry. Used for stale-with-max-age lookups.
func (s *Store) GetFresherThan(key string, cutoff time.Time) (*Entry, bool, error) {
	return s.scanOne(
		`SELECT key, url, payload, etag, category, created_at, expires_at, last_accessed, hit_count, size_bytes
		 FROM cache_entries WHERE key = ? AND created_at > ?`, key, unixSeconds(cutoff))
}

func (s *Store) scanOne(query string, args ...any) (*Entry, bool, error) {
	var e Entry
	var etag sql.NullString
	var createdAt, expiresAt, lastAccessed float64

	err := s.db.QueryRow(query, args...).Scan(
		&e.Key, &e.URL, &e.Payload, &etag, (*string)(&e.Category),
		&createdAt, &expiresAt, &lastAccessed, &e.HitCount, &e.SizeBytes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, false, fmt.Errorf("cache store get: %w", err)
	}

	e.ETag = etag.String
	e.CreatedAt = fromUnixSeconds(createdAt)
	e.ExpiresAt = fromUnixSeconds(expiresAt)
	e.LastAccessed = fromUnixSeconds(lastAccessed)
	return &e, true, nil
}

// Set inserts or fully replaces the row for entry.Key. Re-setting an existing
// key overwrites every field, including ETag and ExpiresAt. The single upsert
// statement guarantees readers never observe a partially written entry.
func (s *Store) Set(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO cache_entries
		 (key, url, payload, etag, category, created_at, expires_at, last_accessed, hit_count, size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.URL, entry.Payload, entry.ETag, string(entry.Category),
		unixSeconds(entry.CreatedAt), unixSeconds(entry.ExpiresAt),
		unixSeconds(entry.LastAccessed), entry.HitCount, entry.SizeBytes,
	)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache store set: %w", err)
	}
	return nil
}

// Touch records a store-tier lookup: hit_count is incremented and
// last_accessed moves to now.
func (s *Store) Touch(key string) error {
	_, err := s.db.Exec(
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed = ? WHERE key = ?`,
		unixSeconds(time.Now()), key,
	)
	if err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("cache store touch: %w", err)
	}
	return nil
}

// Invalidate deletes entries matching the URL pattern (SQL LIKE syntax) or
// category. With neither argument the entire store is cleared. Safe to call
// concurrently with reads and writes.
func (s *Store) Invalidate(urlPattern string, category Category) error {
	var err error
	switch {
	case urlPattern != "":
		_, err = s.db.Exec(`DELETE FROM cache_entries WHERE url LIKE ?`, urlPattern)
	case category != "":
		_, err = s.db.Exec(`DELETE FROM cache_entries WHERE category = ?`, string(category))
	default:
		_, err = s.db.Exec(`DELETE FROM cache_entries`)
	}
	if err != nil {
		cacheErrors.WithLabelValues("invalidate").Inc()
		return fmt.Errorf("cache store invalidate: %w", err)
	}
	return nil
}

// CleanupExpired deletes expired rows, or rows older than maxAge if maxAge is
// positive, then vacuums to reclaim freed space.
func (s *Store) CleanupExpired(maxAge time.Duration) error {
	var err error
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		_, err = s.db.Exec(`DELETE FROM cache_entries WHERE created_at < ?`, unixSeconds(cutoff))
	} else {
		_, err = s.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, unixSeconds(time.Now()))
	}
	if err != nil {
		cacheErrors.WithLabelValues("cleanup").Inc()
		return fmt.Errorf("cache store cleanup: %w", err)
	}

	if _, err := s.db.Exec(`VACUUM`); err != nil {
		cacheErrors.WithLabelValues("cleanup").Inc()
		return fmt.Errorf("cache store vacuum: %w", err)
	}
	return nil
}

// StoreStats holds aggregate statistics for the store tier.
type StoreStats struct {
	EntryCount int64
	TotalBytes int64
	TotalHits  int64
	FreshCount int64
}

// Stats returns aggregate counts for the store tier.
func (s *Store) Stats() (StoreStats, error) {
	var st StoreStats

	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0), COALESCE(SUM(hit_count), 0) FROM cache_entries`,
	).Scan(&st.EntryCount, &st.TotalBytes, &st.TotalHits)
	if err != nil {
		cacheErrors.WithLabelValues("stats").Inc()
		return StoreStats{}, fmt.Errorf("cache store stats: %w", err)
	}

	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at > ?`, unixSeconds(time.Now()),
	).Scan(&st.FreshCount)
	if err != nil {
		cacheErrors.WithLabelValues("stats").Inc()
		return StoreStats{}, fmt.Errorf("cache store stats: %w", err)
	}

	return st, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
