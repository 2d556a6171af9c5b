package memory

import (
	"context"
	"maps"

	"github.com/jmgilman/go/imagecache/internal/logging"
	"github.com/jmgilman/go/imagecache/internal/lru"
	"github.com/jmgilman/go/imagecache/internal/metrics"
)

type strongEntry struct {
	key    Key
	image  Image
	extras map[string]any
	size   int64
}

// StrongCache keeps images alive in a size-bounded LRU. Entries that leave it
// for any reason other than replacement are demoted to the weak tier.
// It is not safe for concurrent use.
type StrongCache struct {
	lru     *lru.Cache[string, *strongEntry]
	weak    *WeakCache
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewStrongCache creates a strong tier bounded by maxSize bytes. weak may be
// nil, in which case removed entries are simply dropped.
func NewStrongCache(maxSize int64, weak *WeakCache, logger *logging.Logger, m *metrics.Metrics) *StrongCache {
	c := &StrongCache{weak: weak, logger: logger, metrics: m}
	c.lru = lru.New[string, *strongEntry](maxSize, func(_ string, e *strongEntry) int64 { return e.size }, c.entryRemoved)
	return c
}

func (c *StrongCache) entryRemoved(evicted bool, _ string, old *strongEntry, replacement **strongEntry) {
	if replacement != nil {
		return
	}
	if evicted {
		c.metrics.RecordEviction(metrics.TierMemory)
		logging.LogEviction(context.Background(), c.logger, logging.OpMemoryEvict, old.key.String(), old.size, "size")
	}
	if c.weak != nil {
		c.weak.Set(old.key, old.image, old.extras, old.size)
	}
}

// Get returns the value for key and marks it most recently used.
func (c *StrongCache) Get(key Key) (Value, bool) {
	e, ok := c.lru.Get(key.id())
	if !ok {
		return Value{}, false
	}
	return Value{Image: e.image, Extras: maps.Clone(e.extras)}, true
}

// Set stores the image. An image larger than the whole cache evicts any
// existing strong entry for key and goes straight to the weak tier.
func (c *StrongCache) Set(key Key, img Image, extras map[string]any, size int64) {
	e := &strongEntry{key: key, image: img, extras: maps.Clone(extras), size: size}
	if size > c.lru.MaxSize() {
		c.lru.Remove(key.id())
		if c.weak != nil {
			c.weak.Set(key, img, e.extras, size)
		}
		return
	}
	c.lru.Put(key.id(), e)
}

// Remove deletes key, demoting it to the weak tier.
func (c *StrongCache) Remove(key Key) bool {
	_, ok := c.lru.Remove(key.id())
	return ok
}

// Keys returns the cached keys from least to most recently used.
func (c *StrongCache) Keys() []Key {
	ids := c.lru.Keys()
	keys := make([]Key, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.lru.Peek(id); ok {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// TrimToSize evicts least recently used entries until Size() <= size.
func (c *StrongCache) TrimToSize(size int64) { c.lru.TrimToSize(size) }

// Clear evicts every entry.
func (c *StrongCache) Clear() { c.lru.Clear() }

// Size returns the bytes currently held.
func (c *StrongCache) Size() int64 { return c.lru.Size() }

// MaxSize returns the byte bound.
func (c *StrongCache) MaxSize() int64 { return c.lru.MaxSize() }

// SetMaxSize changes the bound, trimming if it shrank.
func (c *StrongCache) SetMaxSize(size int64) { c.lru.Resize(size) }
