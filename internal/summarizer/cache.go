package summarizer

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache stores finished summaries by key until they expire. Set ignores a
// non-positive ttl and an empty summary.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, summary string, ttl time.Duration) error
}

// memoryCache keeps the most recently used summaries in process. When full it
// evicts an expired entry first and the least recently used one otherwise.
type memoryCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time
}

type memoryCacheEntry struct {
	key       string
	summary   string
	expiresAt time.Time
}

// NewMemoryCache returns an LRU cache bounded by maxEntries, or nil when
// maxEntries is not positive.
func NewMemoryCache(maxEntries int) Cache {
	c := newMemoryCache(maxEntries)
	if c == nil {
		return nil
	}

	return c
}

func newMemoryCache(maxEntries int) *memoryCache {
	if maxEntries <= 0 {
		return nil
	}

	return &memoryCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}

	entry := entryOf(elem)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)

		return "", false, nil
	}

	c.order.MoveToFront(elem)

	return entry.summary, true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, summary string, ttl time.Duration) error {
	if key == "" || summary == "" || ttl <= 0 {
		return nil
	}

	now := c.now()
	entry := &memoryCacheEntry{key: key, summary: summary, expiresAt: now.Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = entry
		c.order.MoveToFront(elem)

		return nil
	}

	c.entries[key] = c.order.PushFront(entry)

	for c.order.Len() > c.maxEntries {
		c.removeLocked(c.victimLocked(now))
	}

	return nil
}

func (c *memoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// victimLocked returns the oldest expired entry, or the least recently used
// one when nothing has expired.
func (c *memoryCache) victimLocked(now time.Time) *list.Element {
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		if now.After(entryOf(elem).expiresAt) {
			return elem
		}
	}

	return c.order.Back()
}

func (c *memoryCache) removeLocked(elem *list.Element) {
	delete(c.entries, entryOf(elem).key)
	c.order.Remove(elem)
}

func entryOf(elem *list.Element) *memoryCacheEntry {
	return elem.Value.(*memoryCacheEntry) //nolint:forcetypeassert // Only entries are stored.
}
