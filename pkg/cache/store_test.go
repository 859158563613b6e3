package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "cache", "api_cache.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testEntry(key, rawURL string, ttl time.Duration) *Entry {
	now := time.Now()
	payload := []byte(`{"name":"repo","stargazers_count":100}`)
	return &Entry{
		Key:          key,
		URL:          rawURL,
		Payload:      payload,
		ETag:         `"abc123"`,
		Category:     Categorize(rawURL),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		SizeBytes:    int64(len(payload)),
	}
}

func TestStore_SetAndGet(t *testing.T) {
	store := setupTestStore(t)

	entry := testEntry("k1", "https://api.github.com/repos/o/r", time.Hour)
	if err := store.Set(entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := store.Get("k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Get returned miss after Set")
	}
	if string(got.Payload) != string(entry.Payload) {
		t.Errorf("Payload mismatch: got %s", got.Payload)
	}
	if got.ETag != entry.ETag {
		t.Errorf("ETag mismatch: got %s, want %s", got.ETag, entry.ETag)
	}
	if got.Category != CategoryRepos {
		t.Errorf("Category = %s, want repos", got.Category)
	}
	if got.SizeBytes != entry.SizeBytes {
		t.Errorf("SizeBytes = %d, want %d", got.SizeBytes, entry.SizeBytes)
	}
}

func TestStore_GetMiss(t *testing.T) {
	store := setupTestStore(t)

	_, ok, err := store.Get("nonexistent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("Get returned hit for absent key")
	}
}

func TestStore_GetReturnsExpiredEntries(t *testing.T) {
	store := setupTestStore(t)

	entry := testEntry("k1", "https://api.github.com/repos/o/r", -time.Minute)
	if err := store.Set(entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// The store tier returns entries regardless of freshness; the caller
	// classifies them.
	got, ok, err := store.Get("k1")
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v), want expired entry returned", ok, err)
	}
	if !got.IsExpired() {
		t.Error("Entry should classify as expired")
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	store := setupTestStore(t)

	first := testEntry("k1", "https://api.github.com/repos/o/r", time.Hour)
	if err := store.Set(first); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second := testEntry("k1", "https://api.github.com/repos/o/r", time.Minute)
	second.Payload = []byte(`{"name":"repo","stargazers_count":101}`)
	second.ETag = `"def456"`
	second.SizeBytes = int64(len(second.Payload))
	if err := store.Set(second); err != nil {
		t.Fatalf("Second Set failed: %v", err)
	}

	got, ok, _ := store.Get("k1")
	if !ok {
		t.Fatal("Get returned miss")
	}
	if got.ETag != `"def456"` {
		t.Errorf("ETag not overwritten: got %s", got.ETag)
	}
	if string(got.Payload) != string(second.Payload) {
		t.Errorf("Payload not overwritten: got %s", got.Payload)
	}
	diff := got.ExpiresAt.Sub(second.ExpiresAt)
	if diff < -time.Second || diff > time.Second {
		t.Errorf("ExpiresAt not overwritten: got %v, want %v", got.ExpiresAt, second.ExpiresAt)
	}
}

func TestStore_Touch(t *testing.T) {
	store := setupTestStore(t)

	entry := testEntry("k1", "https://api.github.com/repos/o/r", time.Hour)
	if err := store.Set(entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := store.Touch("k1"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if err := store.Touch("k1"); err != nil {
		t.Fatalf("Second Touch failed: %v", err)
	}

	got, _, _ := store.Get("k1")
	if got.HitCount != 2 {
		t.Errorf("HitCount = %d, want 2", got.HitCount)
	}
	if !got.LastAccessed.After(entry.LastAccessed.Add(-time.Second)) {
		t.Errorf("LastAccessed not advanced: %v", got.LastAccessed)
	}
}

func TestStore_GetFresherThan(t *testing.T) {
	store := setupTestStore(t)

	// Expired entry created now.
	entry := testEntry("k1", "https://api.github.com/repos/o/r", -time.Minute)
	if err := store.Set(entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Cutoff in the past: entry qualifies despite being expired.
	got, ok, err := store.GetFresherThan("k1", time.Now().Add(-time.Hour))
	if err != nil || !ok {
		t.Fatalf("GetFresherThan = (%v, %v), want hit", ok, err)
	}
	if string(got.Payload) != string(entry.Payload) {
		t.Errorf("Payload mismatch: got %s", got.Payload)
	}

	// Cutoff in the future: entry is too old.
	_, ok, err = store.GetFresherThan("k1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("GetFresherThan failed: %v", err)
	}
	if ok {
		t.Error("GetFresherThan returned entry older than cutoff")
	}
}

func TestStore_Invalidate(t *testing.T) {
	store := setupTestStore(t)

	entries := map[string]string{
		"k1": "https://api.github.com/repos/acme/web/pulls",
		"k2": "https://api.github.com/repos/acme/api/pulls",
		"k3": "https://api.github.com/users/octocat",
	}
	for key, rawURL := range entries {
		if err := store.Set(testEntry(key, rawURL, time.Hour)); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	t.Run("by pattern", func(t *testing.T) {
		if err := store.Invalidate("%/repos/acme/web/%", ""); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if _, ok, _ := store.Get("k1"); ok {
			t.Error("k1 should have been invalidated by pattern")
		}
		if _, ok, _ := store.Get("k2"); !ok {
			t.Error("k2 should have survived pattern invalidation")
		}
	})

	t.Run("by category", func(t *testing.T) {
		if err := store.Invalidate("", CategoryPulls); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if _, ok, _ := store.Get("k2"); ok {
			t.Error("k2 should have been invalidated by category")
		}
		if _, ok, _ := store.Get("k3"); !ok {
			t.Error("k3 (users) should have survived pulls invalidation")
		}
	})

	t.Run("clear all", func(t *testing.T) {
		if err := store.Invalidate("", ""); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		stats, err := store.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.EntryCount != 0 {
			t.Errorf("EntryCount after full clear = %d, want 0", stats.EntryCount)
		}
	})
}

func TestStore_CleanupExpired(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Set(testEntry("fresh", "https://api.github.com/repos/o/r", time.Hour)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(testEntry("stale", "https://api.github.com/repos/o/r2", -time.Minute)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := store.CleanupExpired(0); err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}

	if _, ok, _ := store.Get("stale"); ok {
		t.Error("Expired entry should have been cleaned up")
	}
	if _, ok, _ := store.Get("fresh"); !ok {
		t.Error("Fresh entry should have survived cleanup")
	}
}

func TestStore_CleanupExpired_MaxAgeOverride(t *testing.T) {
	store := setupTestStore(t)

	old := testEntry("old", "https://api.github.com/repos/o/r", time.Hour)
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	if err := store.Set(old); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(testEntry("recent", "https://api.github.com/repos/o/r2", time.Hour)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Age-based cleanup deletes by created_at even when the entry is fresh.
	if err := store.CleanupExpired(24 * time.Hour); err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}

	if _, ok, _ := store.Get("old"); ok {
		t.Error("Entry older than maxAge should have been removed")
	}
	if _, ok, _ := store.Get("recent"); !ok {
		t.Error("Recent entry should have survived age cleanup")
	}
}

func TestStore_Stats(t *testing.T) {
	store := setupTestStore(t)

	fresh := testEntry("fresh", "https://api.github.com/repos/o/r", time.Hour)
	stale := testEntry("stale", "https://api.github.com/repos/o/r2", -time.Minute)
	for _, e := range []*Entry{fresh, stale} {
		if err := store.Set(e); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if err := store.Touch("fresh"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2", stats.EntryCount)
	}
	if stats.FreshCount != 1 {
		t.Errorf("FreshCount = %d, want 1", stats.FreshCount)
	}
	if stats.TotalHits != 1 {
		t.Errorf("TotalHits = %d, want 1", stats.TotalHits)
	}
	wantBytes := fresh.SizeBytes + stale.SizeBytes
	if stats.TotalBytes != wantBytes {
		t.Errorf("TotalBytes = %d, want %d", stats.TotalBytes, wantBytes)
	}
}

func TestStore_ConcurrentReadersAndWriters(t *testing.T) {
	store := setupTestStore(t)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				key := fmt.Sprintf("k%d", (n*25+j)%40)
				entry := testEntry(key, fmt.Sprintf("https://api.github.com/repos/o/r%d", n), time.Hour)
				if err := store.Set(entry); err != nil {
					t.Errorf("concurrent Set failed: %v", err)
					return
				}
				if got, ok, err := store.Get(key); err != nil {
					t.Errorf("concurrent Get failed: %v", err)
					return
				} else if ok && len(got.Payload) == 0 {
					t.Error("observed torn read: entry with empty payload")
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "api_cache.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Set(testEntry("k1", "https://api.github.com/repos/o/r", time.Hour)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	if _, ok, _ := reopened.Get("k1"); !ok {
		t.Error("Entry did not survive store restart")
	}
}
