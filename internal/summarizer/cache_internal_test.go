package summarizer

import (
	"context"
	"testing"
	"time"
)

func newTestMemoryCache(t *testing.T, maxEntries int) (*memoryCache, *time.Time) {
	t.Helper()

	cache := newMemoryCache(maxEntries)
	if cache == nil {
		t.Fatalf("expected cache instance")
	}

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	return cache, &now
}

func mustSet(t *testing.T, cache *memoryCache, key string, summary string, ttl time.Duration) {
	t.Helper()

	if err := cache.Set(context.Background(), key, summary, ttl); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func cached(cache *memoryCache, key string) bool {
	_, ok, _ := cache.Get(context.Background(), key)
	return ok
}

func TestMemoryCacheGetSet(t *testing.T) {
	cache, _ := newTestMemoryCache(t, 2)
	mustSet(t, cache, "key", "value", time.Hour)

	summary, ok, err := cache.Get(context.Background(), "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected cached summary to be present")
	}
	if summary != "value" {
		t.Fatalf("unexpected summary: %q", summary)
	}
}

func TestMemoryCacheOverwritesEntry(t *testing.T) {
	cache, _ := newTestMemoryCache(t, 2)
	mustSet(t, cache, "key", "old", time.Hour)
	mustSet(t, cache, "key", "new", time.Hour)

	summary, _, _ := cache.Get(context.Background(), "key")
	if summary != "new" {
		t.Fatalf("unexpected summary: %q", summary)
	}
	if cache.size() != 1 {
		t.Fatalf("expected one entry, got %d", cache.size())
	}
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	cache, now := newTestMemoryCache(t, 2)
	mustSet(t, cache, "key", "value", time.Minute)

	*now = now.Add(2 * time.Minute)

	if cached(cache, "key") {
		t.Fatalf("expected cache entry to expire")
	}
	if cache.size() != 0 {
		t.Fatalf("expected expired cache entry to be removed")
	}
}

func TestMemoryCacheSkipsUncacheableValues(t *testing.T) {
	cache, _ := newTestMemoryCache(t, 2)
	mustSet(t, cache, "zero-ttl", "value", 0)
	mustSet(t, cache, "empty", "", time.Hour)
	mustSet(t, cache, "", "value", time.Hour)

	if cache.size() != 0 {
		t.Fatalf("expected nothing cached, got %d entries", cache.size())
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, _ := newTestMemoryCache(t, 2)
	mustSet(t, cache, "a", "summary-a", time.Hour)
	mustSet(t, cache, "b", "summary-b", time.Hour)

	if !cached(cache, "a") {
		t.Fatalf("expected entry a to exist before eviction check")
	}

	mustSet(t, cache, "c", "summary-c", time.Hour)

	if cached(cache, "b") {
		t.Fatalf("expected entry b to be evicted")
	}
	for _, key := range []string{"a", "c"} {
		if !cached(cache, key) {
			t.Fatalf("expected entry %s to be cached", key)
		}
	}
}

func TestMemoryCacheEvictsExpiredBeforeRecent(t *testing.T) {
	cache, now := newTestMemoryCache(t, 2)
	mustSet(t, cache, "old", "summary-old", time.Hour)
	mustSet(t, cache, "short", "summary-short", time.Minute)

	*now = now.Add(2 * time.Minute)
	mustSet(t, cache, "new", "summary-new", time.Hour)

	if !cached(cache, "old") {
		t.Fatalf("expected live entry to survive while an expired one exists")
	}
	if !cached(cache, "new") {
		t.Fatalf("expected new entry to be cached")
	}
	if cache.size() != 2 {
		t.Fatalf("expected two entries, got %d", cache.size())
	}
}

func TestNewMemoryCacheDisabled(t *testing.T) {
	if cache := NewMemoryCache(0); cache != nil {
		t.Fatalf("expected nil cache for zero size")
	}
}
