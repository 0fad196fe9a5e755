package embedders

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CachedEmbedder wraps an Embedder with an in-memory LRU backed by gob
// files on disk. Disk entries are sharded by the first two hex characters
// of the key so no single directory grows unbounded.
type CachedEmbedder struct {
	inner   Embedder
	dir     string
	maxSize int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key    string
	vector []float32
}

// CacheStats reports hit-rate counters for observability.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

func NewCachedEmbedder(inner Embedder, dir string, maxSize int) (*CachedEmbedder, error) {
	if maxSize <= 0 {
		maxSize = 2048
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &CachedEmbedder{
		inner:   inner,
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	if vec, err := c.loadDisk(key); err == nil {
		c.store(key, vec)
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return vec, nil
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.store(key, vec)
	// Disk persistence is best effort; a write failure only costs a
	// future recomputation.
	_ = c.saveDisk(key, vec)
	return vec, nil
}

func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*cacheEntry).vector, true
}

func (c *CachedEmbedder) store(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).vector = vector
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, vector: vector})
	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) diskPath(key string) string {
	return filepath.Join(c.dir, key[:2], key+".gob")
}

func (c *CachedEmbedder) loadDisk(key string) ([]float32, error) {
	f, err := os.Open(c.diskPath(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var vector []float32
	if err := gob.NewDecoder(f).Decode(&vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (c *CachedEmbedder) saveDisk(key string, vector []float32) error {
	path := c.diskPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "embed-*")
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(tmp).Encode(vector); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *CachedEmbedder) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Entries: len(c.entries)}
}

func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}
