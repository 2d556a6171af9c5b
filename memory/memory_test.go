package memory

import (
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeImage is a Referable image whose liveness is controlled by the test.
type fakeImage struct {
	size     int64
	single   bool
	released bool
}

func (f *fakeImage) SizeInBytes() int64  { return f.size }
func (f *fakeImage) Shareable() bool     { return !f.single }
func (f *fakeImage) WeakRef() WeakHandle { return fakeHandle{img: f} }

type fakeHandle struct {
	img *fakeImage
}

func (h fakeHandle) Get() (Image, bool) {
	if h.img.released {
		return nil, false
	}
	return h.img, true
}

// plainImage cannot be weakly referenced.
type plainImage struct {
	size int64
}

func (p plainImage) SizeInBytes() int64 { return p.size }
func (p plainImage) Shareable() bool    { return true }

// gcImage is reclaimed by the garbage collector.
type gcImage struct {
	pixels []byte
}

func (g *gcImage) SizeInBytes() int64  { return int64(len(g.pixels)) }
func (g *gcImage) Shareable() bool     { return true }
func (g *gcImage) WeakRef() WeakHandle { return WeakPointer(g) }

func key(s string) Key { return NewKey(s, nil) }

func newTestCache(t *testing.T, maxSize int64) *Cache {
	t.Helper()
	c, err := New(DefaultConfig(maxSize))
	require.NoError(t, err)
	return c
}

func TestKey(t *testing.T) {
	a := NewKey("https://example.com/a.png", map[string]string{"w": "100", "h": "50"})
	b := NewKey("https://example.com/a.png", map[string]string{"h": "50", "w": "100"})
	c := NewKey("https://example.com/a.png", nil)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, "https://example.com/a.png#h=50&w=100", a.String())
	assert.Equal(t, "https://example.com/a.png", c.String())

	v, ok := a.Extra("w")
	assert.True(t, ok)
	assert.Equal(t, "100", v)
}

func TestKey_IsImmutable(t *testing.T) {
	extras := map[string]string{"w": "100"}
	k := NewKey("a", extras)
	extras["w"] = "200"

	got := k.Extras()
	got["w"] = "300"

	v, _ := k.Extra("w")
	assert.Equal(t, "100", v)
}

func TestKey_PrimaryWithSeparatorDoesNotCollide(t *testing.T) {
	a := NewKey("a#h=1", nil)
	b := NewKey("a", map[string]string{"h": "1"})

	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.id(), b.id())
	assert.False(t, a.Equal(b))
}

func TestCache_GetSet(t *testing.T) {
	c := newTestCache(t, 1000)
	img := &fakeImage{size: 100}

	require.True(t, c.Set(key("a"), Value{Image: img, Extras: map[string]any{"etag": "x"}}))

	v, ok := c.Get(key("a"))
	require.True(t, ok)
	assert.Same(t, img, v.Image)
	assert.Equal(t, "x", v.Extras["etag"])
	assert.Equal(t, int64(100), c.Size())

	_, ok = c.Get(key("b"))
	assert.False(t, ok)
}

func TestCache_DemotesEvictedEntriesToWeakTier(t *testing.T) {
	const size = 100
	c := newTestCache(t, 2*size)

	images := make(map[string]*fakeImage)
	for i := 1; i <= 3; i++ {
		k := strconv.Itoa(i)
		images[k] = &fakeImage{size: size}
		require.True(t, c.Set(key(k), Value{Image: images[k]}))
	}

	_, inStrong := c.strong.Get(key("1"))
	assert.False(t, inStrong)
	assert.Equal(t, int64(2*size), c.Size())

	v, ok := c.Get(key("1"))
	require.True(t, ok)
	assert.Same(t, images["1"], v.Image)

	images["1"].released = true
	_, ok = c.Get(key("1"))
	assert.False(t, ok)
}

func TestCache_ZeroMaxSizeStoresNothing(t *testing.T) {
	c := newTestCache(t, 0)

	assert.False(t, c.Set(key("a"), Value{Image: &fakeImage{size: 10}}))
	_, ok := c.Get(key("a"))
	assert.False(t, ok)
	assert.Empty(t, c.Keys())
}

func TestCache_SetMaxSizeEnablesStrongTier(t *testing.T) {
	c := newTestCache(t, 0)
	img := &fakeImage{size: 10}

	require.False(t, c.Set(key("a"), Value{Image: img}))

	c.SetMaxSize(100)
	assert.Equal(t, int64(100), c.MaxSize())
	require.True(t, c.Set(key("a"), Value{Image: img}))
	v, ok := c.Get(key("a"))
	require.True(t, ok)
	assert.Same(t, img, v.Image)

	c.SetMaxSize(0)
	assert.False(t, c.Set(key("b"), Value{Image: &fakeImage{size: 10}}))
	_, ok = c.Get(key("b"))
	assert.False(t, ok)
}

func TestCache_RejectsUnusableValues(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{name: "nil image", value: Value{}},
		{name: "zero size", value: Value{Image: &fakeImage{size: 0}}},
		{name: "negative size", value: Value{Image: &fakeImage{size: -1}}},
		{name: "not shareable", value: Value{Image: &fakeImage{size: 10, single: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t, 1000)
			assert.False(t, c.Set(key("a"), tt.value))
			_, ok := c.Get(key("a"))
			assert.False(t, ok)
		})
	}
}

func TestCache_EvictsValuesThatBecameSingleUse(t *testing.T) {
	c := newTestCache(t, 1000)
	img := &fakeImage{size: 10}
	require.True(t, c.Set(key("a"), Value{Image: img}))

	img.single = true
	_, ok := c.Get(key("a"))
	assert.False(t, ok)

	img.single = false
	_, ok = c.Get(key("a"))
	assert.False(t, ok, "entry must be gone from both tiers")
	assert.Empty(t, c.Keys())
}

func TestCache_OversizedImageGoesToWeakTier(t *testing.T) {
	c := newTestCache(t, 100)
	small := &fakeImage{size: 50}
	big := &fakeImage{size: 500}

	require.True(t, c.Set(key("a"), Value{Image: small}))
	require.True(t, c.Set(key("a"), Value{Image: big}))

	assert.Equal(t, int64(0), c.Size())
	v, ok := c.Get(key("a"))
	require.True(t, ok)
	assert.Same(t, big, v.Image)
}

func TestCache_RemoveClearsBothTiers(t *testing.T) {
	c := newTestCache(t, 100)
	require.True(t, c.Set(key("a"), Value{Image: &fakeImage{size: 60}}))
	require.True(t, c.Set(key("b"), Value{Image: &fakeImage{size: 60}}))

	// "a" is now in the weak tier, "b" in the strong tier.
	assert.True(t, c.Remove(key("a")))
	assert.True(t, c.Remove(key("b")))
	assert.False(t, c.Remove(key("b")))

	_, ok := c.Get(key("a"))
	assert.False(t, ok)
	_, ok = c.Get(key("b"))
	assert.False(t, ok)
}

func TestCache_TrimKeysAndClear(t *testing.T) {
	c := newTestCache(t, 1000)
	for _, k := range []string{"a", "b", "c"} {
		require.True(t, c.Set(key(k), Value{Image: &fakeImage{size: 100}}))
	}

	c.TrimToSize(100)
	assert.Equal(t, int64(100), c.Size())
	assert.Len(t, c.Keys(), 3, "trimmed entries remain reachable through the weak tier")

	c.SetMaxSize(0)
	assert.Equal(t, int64(0), c.Size())
	assert.Equal(t, int64(0), c.MaxSize())

	c.Clear()
	assert.Empty(t, c.Keys())
}

func TestCache_NonReferableImagesAreDroppedOnDemotion(t *testing.T) {
	c := newTestCache(t, 100)
	require.True(t, c.Set(key("a"), Value{Image: plainImage{size: 100}}))
	require.True(t, c.Set(key("b"), Value{Image: plainImage{size: 100}}))

	_, ok := c.Get(key("a"))
	assert.False(t, ok)
	_, ok = c.Get(key("b"))
	assert.True(t, ok)
}

func TestCache_WeakDisabled(t *testing.T) {
	c, err := New(Config{MaxSizeBytes: 100, StrongReferences: true})
	require.NoError(t, err)

	require.True(t, c.Set(key("a"), Value{Image: &fakeImage{size: 100}}))
	require.True(t, c.Set(key("b"), Value{Image: &fakeImage{size: 100}}))

	_, ok := c.Get(key("a"))
	assert.False(t, ok)
}

func TestCache_InvalidConfig(t *testing.T) {
	_, err := New(Config{MaxSizeBytes: -1})
	assert.Error(t, err)
}

func TestWeakCache_RemoveEntryChecksIdentity(t *testing.T) {
	w := NewWeakCache(nil)
	first := &fakeImage{size: 1}
	second := &fakeImage{size: 1}

	w.Set(key("a"), first, nil, 1)
	stale, ok := w.lookup(key("a"))
	require.True(t, ok)

	// A newer value lands between the lookup and the removal.
	w.Set(key("a"), second, nil, 1)
	assert.False(t, w.removeEntry(key("a"), stale))

	v, ok := w.Get(key("a"))
	require.True(t, ok)
	assert.Same(t, second, v.Image)

	current, _ := w.lookup(key("a"))
	assert.True(t, w.removeEntry(key("a"), current))
	assert.Equal(t, 0, w.Len())
}

func TestWeakCache_DeadEntries(t *testing.T) {
	w := NewWeakCache(nil)
	img := &fakeImage{size: 1}
	w.Set(key("a"), img, nil, 1)

	img.released = true
	_, ok := w.Get(key("a"))
	assert.False(t, ok)
	assert.Equal(t, 1, w.Len(), "dead entries are purged lazily")
	assert.True(t, w.Remove(key("a")), "remove succeeds for dead entries")

	w.Set(key("b"), img, nil, 1)
	w.CleanUp()
	assert.Equal(t, 0, w.Len())
}

func TestWeakCache_PeriodicCleanUp(t *testing.T) {
	w := NewWeakCache(nil)
	dead := &fakeImage{size: 1, released: true}
	w.Set(key("dead"), dead, nil, 1)

	for i := range cleanUpInterval - 1 {
		w.Set(key(strconv.Itoa(i)), &fakeImage{size: 1}, nil, 1)
	}

	_, ok := w.lookup(key("dead"))
	assert.False(t, ok)
	assert.Equal(t, cleanUpInterval-1, w.Len())
}

func TestRefCounted(t *testing.T) {
	c := newTestCache(t, 100)
	img := NewRefCounted(plainImage{size: 100})
	img.Retain()

	require.True(t, c.Set(key("a"), Value{Image: img}))
	require.True(t, c.Set(key("b"), Value{Image: plainImage{size: 100}}))

	v, ok := c.Get(key("a"))
	require.True(t, ok)
	assert.Same(t, img, v.Image)

	assert.False(t, img.Release())
	assert.True(t, img.Release())
	_, ok = c.Get(key("a"))
	assert.False(t, ok)
}

func TestWeakPointer_ReclaimedByGC(t *testing.T) {
	c := newTestCache(t, 10)

	func() {
		img := &gcImage{pixels: make([]byte, 64)}
		// Larger than the strong bound, so only the weak tier sees it.
		require.True(t, c.Set(key("a"), Value{Image: img}))
		_, ok := c.Get(key("a"))
		require.True(t, ok)
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		_, ok := c.Get(key("a"))
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}
