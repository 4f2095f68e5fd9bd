package vocabclient

import (
	"container/list"
	"sync"
	"time"
)

// ttlCache is a size-bounded, TTL-expiring, LRU-evicting cache keyed by
// string, mirroring the upstream seed service's community_api.TTLCache.
// Entries store a slice of [types.VocabularyEntry] so a negative lookup
// (empty slice, non-nil) can be distinguished from an absent key (cache
// miss) — both are supported by this cache, the caller decides what "not
// found" means.
type ttlCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	ll    *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key       string
	value     any
	storedAt  time.Time
}

func newTTLCache(maxSize int, ttl time.Duration) *ttlCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &ttlCache{
		maxSize: maxSize,
		ttl:     ttl,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
	}
}

// get returns the cached value and true if present and unexpired. A hit
// moves the entry to the front (most-recently-used).
func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.storedAt) > c.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.value, true
}

// set stores value under key, evicting the least-recently-used entry if the
// cache is over its size bound.
func (c *ttlCache) set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).storedAt = time.Now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, value: value, storedAt: time.Now()})
	c.items[key] = el

	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *ttlCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
