package retrieval

import (
	"container/list"
	"sync"
	"time"
)

// queryCache is a bounded LRU with per-entry TTL. Expired entries are
// dropped lazily on access.
type queryCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List

	hits      uint64
	misses    uint64
	evictions uint64

	now func() time.Time
}

type queryCacheEntry struct {
	key     string
	results []SearchResult
	status  SemanticStatus
	expires time.Time
}

// QueryCacheStats is a snapshot of cache counters.
type QueryCacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

func newQueryCache(maxSize int, ttl time.Duration) *queryCache {
	return &queryCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (c *queryCache) get(key string) ([]SearchResult, SemanticStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, "", false
	}

	entry := elem.Value.(*queryCacheEntry)
	if c.now().After(entry.expires) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.evictions++
		c.misses++
		return nil, "", false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.results, entry.status, true
}

func (c *queryCache) put(key string, results []SearchResult, status SemanticStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*queryCacheEntry)
		entry.results = results
		entry.status = status
		entry.expires = expires
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&queryCacheEntry{
		key:     key,
		results: results,
		status:  status,
		expires: expires,
	})

	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*queryCacheEntry).key)
		c.evictions++
	}
}

func (c *queryCache) stats() QueryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return QueryCacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}
