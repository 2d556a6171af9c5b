// Package lru provides a size-bounded least-recently-used map.
//
// Sizes come from a caller supplied function and are accounted
// incrementally, so that function must report a non-negative size that does
// not change while the entry is cached. A violation panics with a
// CodeConsistencyViolation error.
package lru

import (
	"container/list"

	"github.com/jmgilman/go/imagecache/errors"
)

// RemovedFunc is called whenever an entry leaves the cache. evicted is true
// when the entry was dropped to make room (or by Clear); replacement is
// non-nil when Put overwrote the entry.
type RemovedFunc[K comparable, V any] func(evicted bool, key K, old V, replacement *V)

// Cache is a size-bounded LRU map. It is not safe for concurrent use;
// callers serialize access.
type Cache[K comparable, V any] struct {
	maxSize   int64
	size      int64
	ll        *list.List // front is most recently used
	items     map[K]*list.Element
	sizeOf    func(K, V) int64
	onRemoved RemovedFunc[K, V]
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// New creates a cache that holds at most maxSize units as measured by sizeOf.
// A nil sizeOf counts every entry as 1. onRemoved may be nil.
func New[K comparable, V any](maxSize int64, sizeOf func(K, V) int64, onRemoved RemovedFunc[K, V]) *Cache[K, V] {
	if sizeOf == nil {
		sizeOf = func(K, V) int64 { return 1 }
	}
	return &Cache[K, V]{
		maxSize:   maxSize,
		ll:        list.New(),
		items:     make(map[K]*list.Element),
		sizeOf:    sizeOf,
		onRemoved: onRemoved,
	}
}

func (c *Cache[K, V]) safeSizeOf(key K, value V) int64 {
	size := c.sizeOf(key, value)
	if size < 0 {
		panic(errors.Violationf("negative size %d reported for key %v", size, key))
	}
	return size
}

// checkStable panics if the size reported now differs from the size that was
// accounted when the entry was inserted.
func (c *Cache[K, V]) checkStable(e *entry[K, V]) {
	if now := c.sizeOf(e.key, e.value); now != e.size {
		panic(errors.Violationf("size of key %v changed from %d to %d while cached", e.key, e.size, now))
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if ele, ok := c.items[key]; ok {
		c.ll.MoveToFront(ele)
		return ele.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Peek returns the value for key without touching its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if ele, ok := c.items[key]; ok {
		return ele.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is cached without touching its recency.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Put stores value under key, marks it most recently used and evicts until
// the cache fits. It returns the replaced value, if any.
func (c *Cache[K, V]) Put(key K, value V) (V, bool) {
	size := c.safeSizeOf(key, value)

	var old V
	replaced := false
	if ele, ok := c.items[key]; ok {
		e := ele.Value.(*entry[K, V])
		c.checkStable(e)
		old, replaced = e.value, true
		c.size += size - e.size
		e.value, e.size = value, size
		c.ll.MoveToFront(ele)
	} else {
		c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value, size: size})
		c.size += size
	}

	if replaced && c.onRemoved != nil {
		c.onRemoved(false, key, old, &value)
	}
	c.TrimToSize(c.maxSize)
	return old, replaced
}

// Remove deletes key and returns its value.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	ele, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := c.removeElement(ele)
	if c.onRemoved != nil {
		c.onRemoved(false, e.key, e.value, nil)
	}
	return e.value, true
}

// TrimToSize evicts least recently used entries until Size() <= target.
// A negative target empties the cache.
func (c *Cache[K, V]) TrimToSize(target int64) {
	for c.size > target {
		ele := c.ll.Back()
		if ele == nil {
			if c.size != 0 {
				panic(errors.Violationf("empty cache reports size %d", c.size))
			}
			return
		}
		e := c.removeElement(ele)
		if c.onRemoved != nil {
			c.onRemoved(true, e.key, e.value, nil)
		}
	}
}

func (c *Cache[K, V]) removeElement(ele *list.Element) *entry[K, V] {
	e := ele.Value.(*entry[K, V])
	c.checkStable(e)
	c.ll.Remove(ele)
	delete(c.items, e.key)
	c.size -= e.size
	return e
}

// Clear evicts every entry, firing the removal hook for each.
func (c *Cache[K, V]) Clear() {
	c.TrimToSize(-1)
}

// Resize changes the bound and trims if it shrank.
func (c *Cache[K, V]) Resize(maxSize int64) {
	c.maxSize = maxSize
	c.TrimToSize(maxSize)
}

// Size returns the sum of the sizes of all entries.
func (c *Cache[K, V]) Size() int64 { return c.size }

// MaxSize returns the current bound.
func (c *Cache[K, V]) MaxSize() int64 { return c.maxSize }

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int { return c.ll.Len() }

// Keys returns the keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.ll.Len())
	for ele := c.ll.Back(); ele != nil; ele = ele.Prev() {
		keys = append(keys, ele.Value.(*entry[K, V]).key)
	}
	return keys
}
