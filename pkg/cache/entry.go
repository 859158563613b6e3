package cache

import (
	"time"
)

// Entry represents a cached API response in the store tier.
type Entry struct {
	// Key is the deterministic digest of (URL, params).
	Key string

	// URL is the full request URL, kept for pattern invalidation.
	URL string

	// Payload is the serialized response body.
	Payload []byte

	// ETag for conditional requests (If-None-Match). Empty if the server
	// sent none.
	ETag string

	// Category selects the TTL policy for this entry.
	Category Category

	// CreatedAt is when the entry was written.
	CreatedAt time.Time

	// ExpiresAt is CreatedAt plus the resolved TTL.
	ExpiresAt time.Time

	// LastAccessed is updated on every store-tier lookup.
	LastAccessed time.Time

	// HitCount is incremented on every store-tier lookup.
	HitCount int64

	// SizeBytes is the serialized payload length, used for storage accounting.
	SizeBytes int64
}

// IsExpired returns true if the entry is past its expiry.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// HotEntry is the lightweight hot-tier projection of an Entry. Losing a
// HotEntry never loses data; the store tier remains the system of record.
type HotEntry struct {
	Payload   []byte
	ETag      string
	ExpiresAt time.Time
}

// IsExpired returns true if the hot entry is past its expiry.
func (e HotEntry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}
