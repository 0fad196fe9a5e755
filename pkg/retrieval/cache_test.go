package retrieval

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryCache(maxSize int, ttl time.Duration) (*queryCache, *time.Time) {
	c := newQueryCache(maxSize, ttl)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func cachedResults(id string) []SearchResult {
	return []SearchResult{{DocID: id, HybridScore: 1}}
}

func TestQueryCache_HitAndMiss(t *testing.T) {
	c, _ := newTestQueryCache(4, time.Minute)

	_, _, ok := c.get("absent")
	assert.False(t, ok)

	c.put("k", cachedResults("d1"), SemanticSuccess)
	results, status, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "d1", results[0].DocID)
	assert.Equal(t, SemanticSuccess, status)

	stats := c.stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestQueryCache_TTLExpiry(t *testing.T) {
	c, now := newTestQueryCache(4, time.Minute)

	c.put("k", cachedResults("d1"), SemanticSuccess)

	*now = now.Add(time.Minute)
	_, _, ok := c.get("k")
	assert.True(t, ok, "entry is live up to its expiry instant")

	*now = now.Add(time.Millisecond)
	_, _, ok = c.get("k")
	assert.False(t, ok, "entry is gone past its expiry instant")

	stats := c.stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 0, stats.Entries)
}

func TestQueryCache_LRUEviction(t *testing.T) {
	c, _ := newTestQueryCache(2, time.Minute)

	c.put("a", cachedResults("d1"), SemanticSuccess)
	c.put("b", cachedResults("d2"), SemanticSuccess)

	// Touch "a" so "b" is the eviction candidate.
	_, _, ok := c.get("a")
	require.True(t, ok)

	c.put("c", cachedResults("d3"), SemanticSuccess)

	_, _, ok = c.get("b")
	assert.False(t, ok, "least recently used entry was evicted")
	_, _, ok = c.get("a")
	assert.True(t, ok)
	_, _, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.stats().Evictions)
}

func TestQueryCache_PutRefreshesExistingEntry(t *testing.T) {
	c, now := newTestQueryCache(4, time.Minute)

	c.put("k", cachedResults("old"), SemanticPartial)
	*now = now.Add(30 * time.Second)
	c.put("k", cachedResults("new"), SemanticSuccess)

	// The refresh restarted the TTL clock.
	*now = now.Add(45 * time.Second)
	results, status, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "new", results[0].DocID)
	assert.Equal(t, SemanticSuccess, status)
	assert.Equal(t, 1, c.stats().Entries)
}

func TestQueryCache_BoundedUnderChurn(t *testing.T) {
	c, _ := newTestQueryCache(8, time.Minute)

	for i := 0; i < 100; i++ {
		c.put(fmt.Sprintf("k%d", i), cachedResults("d"), SemanticSuccess)
	}
	assert.Equal(t, 8, c.stats().Entries)
	assert.Equal(t, uint64(92), c.stats().Evictions)
}
