package memory

import "maps"

// cleanUpInterval is the number of writes between sweeps of dead entries.
const cleanUpInterval = 10

type weakEntry struct {
	key    Key
	handle WeakHandle
	extras map[string]any
	size   int64
}

// WeakCache holds images through weak handles, so entries disappear once the
// embedder stops using the image. It is not safe for concurrent use.
type WeakCache struct {
	entries    map[string]*weakEntry
	referencer Referencer
	writes     int
}

// NewWeakCache creates an empty weak tier. A nil referencer uses
// DefaultReferencer.
func NewWeakCache(referencer Referencer) *WeakCache {
	if referencer == nil {
		referencer = DefaultReferencer
	}
	return &WeakCache{
		entries:    make(map[string]*weakEntry),
		referencer: referencer,
	}
}

// Get returns the value for key if its image is still live. Dead entries are
// left for the next CleanUp.
func (c *WeakCache) Get(key Key) (Value, bool) {
	e, ok := c.entries[key.id()]
	if !ok {
		return Value{}, false
	}
	img, live := e.handle.Get()
	if !live {
		return Value{}, false
	}
	return Value{Image: img, Extras: maps.Clone(e.extras)}, true
}

// Set replaces any mapping for key. An image the referencer cannot handle
// removes the old mapping and is otherwise dropped.
func (c *WeakCache) Set(key Key, img Image, extras map[string]any, size int64) {
	id := key.id()
	handle := c.referencer(img)
	if handle == nil {
		delete(c.entries, id)
		return
	}
	c.entries[id] = &weakEntry{
		key:    key,
		handle: handle,
		extras: maps.Clone(extras),
		size:   size,
	}

	c.writes++
	if c.writes >= cleanUpInterval {
		c.CleanUp()
	}
}

// Remove deletes the entry for key, live or dead.
func (c *WeakCache) Remove(key Key) bool {
	id := key.id()
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	return true
}

// lookup returns the stored entry so a later removeEntry can be conditional
// on it still being the current mapping.
func (c *WeakCache) lookup(key Key) (*weakEntry, bool) {
	e, ok := c.entries[key.id()]
	return e, ok
}

// removeEntry deletes key only if it still maps to e.
func (c *WeakCache) removeEntry(key Key, e *weakEntry) bool {
	id := key.id()
	if c.entries[id] != e {
		return false
	}
	delete(c.entries, id)
	return true
}

// Keys returns the keys of all entries, including dead ones not yet swept.
func (c *WeakCache) Keys() []Key {
	keys := make([]Key, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.key)
	}
	return keys
}

// Len returns the number of entries, live or dead.
func (c *WeakCache) Len() int { return len(c.entries) }

// Clear drops every entry.
func (c *WeakCache) Clear() {
	clear(c.entries)
	c.writes = 0
}

// CleanUp purges entries whose image has been reclaimed.
func (c *WeakCache) CleanUp() {
	c.writes = 0
	for id, e := range c.entries {
		if _, live := e.handle.Get(); !live {
			delete(c.entries, id)
		}
	}
}
