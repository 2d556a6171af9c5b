package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/internal/logging"
	"github.com/jmgilman/go/imagecache/internal/metrics"
)

// Config holds configuration for the memory cache.
type Config struct {
	// MaxSizeBytes bounds the strong tier.
	MaxSizeBytes int64
	// StrongReferences enables the strong tier.
	StrongReferences bool
	// WeakReferences enables the weak tier.
	WeakReferences bool
}

// DefaultConfig returns a configuration with both tiers enabled.
func DefaultConfig(maxSizeBytes int64) Config {
	return Config{
		MaxSizeBytes:     maxSizeBytes,
		StrongReferences: true,
		WeakReferences:   true,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxSizeBytes < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "memory max size must not be negative, got %d", c.MaxSizeBytes)
	}
	return nil
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithReferencer overrides how weak handles are created.
func WithReferencer(r Referencer) Option {
	return func(c *Cache) { c.referencer = r }
}

// Cache is the two-tier memory cache. Recently used images are held strongly
// up to MaxSizeBytes; images pushed out remain reachable through weak handles
// for as long as something else keeps them alive. While the bound is 0 Set
// stores nothing; SetMaxSize can raise it later. It is safe for concurrent
// use; a single mutex serializes every operation over both tiers.
type Cache struct {
	mu     sync.Mutex
	strong *StrongCache
	weak   *WeakCache

	referencer Referencer
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a memory cache.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}

	if cfg.WeakReferences {
		c.weak = NewWeakCache(c.referencer)
	}
	if cfg.StrongReferences {
		c.strong = NewStrongCache(cfg.MaxSizeBytes, c.weak, c.logger, c.metrics)
	}
	return c, nil
}

// Get returns the value for key from the strong tier, then the weak tier.
// A value whose image is no longer shareable is evicted and reported absent.
func (c *Cache) Get(key Key) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	if c.strong != nil {
		if v, ok := c.strong.Get(key); ok {
			if v.Image.Shareable() {
				c.metrics.RecordHit(metrics.TierMemory, v.Image.SizeInBytes())
				logging.LogHit(ctx, c.logger, logging.OpMemoryGet, v.Image.SizeInBytes())
				return v, true
			}
			// Removal demotes, so the weak copy goes too.
			c.strong.Remove(key)
			if c.weak != nil {
				c.weak.Remove(key)
			}
		}
	}

	if c.weak != nil {
		if e, ok := c.weak.lookup(key); ok {
			if img, live := e.handle.Get(); live {
				if img.Shareable() {
					c.metrics.RecordHit(metrics.TierMemory, img.SizeInBytes())
					logging.LogHit(ctx, c.logger, logging.OpMemoryGet, img.SizeInBytes())
					return Value{Image: img, Extras: maps.Clone(e.extras)}, true
				}
				c.weak.removeEntry(key, e)
			}
		}
	}

	c.metrics.RecordMiss(metrics.TierMemory)
	logging.LogMiss(ctx, c.logger, logging.OpMemoryGet, "not cached")
	return Value{}, false
}

// Set stores v under key and reports whether it was accepted. Values without
// an image, with a non-positive size, or whose image is not shareable are
// ignored, as is every value when the strong tier is disabled or has a zero
// bound.
func (c *Cache) Set(key Key, v Value) bool {
	if v.Image == nil || !v.Image.Shareable() {
		return false
	}
	size := v.Image.SizeInBytes()
	if size <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The weak tier is only fed by demotion.
	if c.strong == nil || c.strong.MaxSize() == 0 {
		return false
	}
	c.strong.Set(key, v.Image, v.Extras, size)
	c.logger.Debug(context.Background(), "memory cache set", "operation", string(logging.OpMemorySet), "key", key.String(), "size", size)
	return true
}

// Remove deletes key from both tiers.
func (c *Cache) Remove(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := false
	if c.strong != nil {
		removed = c.strong.Remove(key)
	}
	if c.weak != nil {
		removed = c.weak.Remove(key) || removed
	}
	return removed
}

// TrimToSize evicts strong entries until Size() <= size. Evicted entries move
// to the weak tier.
func (c *Cache) TrimToSize(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strong != nil {
		c.strong.TrimToSize(size)
	}
}

// Clear drops every entry from both tiers.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strong != nil {
		c.strong.Clear()
	}
	if c.weak != nil {
		c.weak.Clear()
	}
}

// Keys returns the union of the keys held by both tiers.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	var keys []Key
	add := func(ks []Key) {
		for _, k := range ks {
			if _, dup := seen[k.id()]; dup {
				continue
			}
			seen[k.id()] = struct{}{}
			keys = append(keys, k)
		}
	}
	if c.strong != nil {
		add(c.strong.Keys())
	}
	if c.weak != nil {
		add(c.weak.Keys())
	}
	return keys
}

// Size returns the bytes held by the strong tier.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strong == nil {
		return 0
	}
	return c.strong.Size()
}

// MaxSize returns the strong tier bound.
func (c *Cache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strong == nil {
		return 0
	}
	return c.strong.MaxSize()
}

// SetMaxSize changes the strong tier bound, trimming if it shrank. A bound
// of 0 disables Set until it is raised again. Negative sizes are ignored.
func (c *Cache) SetMaxSize(size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.strong != nil && size >= 0 {
		c.strong.SetMaxSize(size)
	}
}

// CleanUp purges weak entries whose image has been reclaimed.
func (c *Cache) CleanUp() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.weak != nil {
		c.weak.CleanUp()
	}
}
