package memory

import (
	"sync/atomic"
	"weak"
)

// Image is a decoded image handle. The cache never looks inside it.
type Image interface {
	// SizeInBytes returns the memory held by the image. It must not change
	// while the image is cached.
	SizeInBytes() int64

	// Shareable reports whether the image may be handed to more than one
	// reader. Single-use images are never cached.
	Shareable() bool
}

// Value is what the cache stores: an image plus caller metadata.
type Value struct {
	Image  Image
	Extras map[string]any
}

// WeakHandle observes an image without keeping it alive.
type WeakHandle interface {
	// Get returns the image if it is still live.
	Get() (Image, bool)
}

// Referable is implemented by images that can be weakly referenced.
type Referable interface {
	Image
	WeakRef() WeakHandle
}

// Referencer creates weak handles for the weak tier. It returns nil for images
// that cannot be weakly held; those are dropped instead of demoted.
type Referencer func(Image) WeakHandle

// DefaultReferencer uses Referable when the image implements it.
func DefaultReferencer(img Image) WeakHandle {
	if r, ok := img.(Referable); ok {
		return r.WeakRef()
	}
	return nil
}

// WeakPointer returns a handle backed by the garbage collector: it stays live
// until nothing else references p. Image types typically implement Referable
// with it:
//
//	func (b *Bitmap) WeakRef() memory.WeakHandle { return memory.WeakPointer(b) }
func WeakPointer[T any, P interface {
	*T
	Image
}](p P) WeakHandle {
	return weakPointer[T, P]{ptr: weak.Make((*T)(p))}
}

type weakPointer[T any, P interface {
	*T
	Image
}] struct {
	ptr weak.Pointer[T]
}

func (w weakPointer[T, P]) Get() (Image, bool) {
	v := w.ptr.Value()
	if v == nil {
		return nil, false
	}
	return P(v), true
}

// RefCounted wraps an image whose lifetime is managed by explicit
// Retain/Release calls. Its weak handle is live while the count is positive.
// It starts with one reference held by the creator.
type RefCounted struct {
	Image
	refs atomic.Int64
}

// NewRefCounted wraps img with a reference count of one.
func NewRefCounted(img Image) *RefCounted {
	r := &RefCounted{Image: img}
	r.refs.Store(1)
	return r
}

// Retain adds a reference.
func (r *RefCounted) Retain() {
	r.refs.Add(1)
}

// Release drops a reference and reports whether the image is now reclaimed.
func (r *RefCounted) Release() bool {
	return r.refs.Add(-1) <= 0
}

// Live reports whether any reference remains.
func (r *RefCounted) Live() bool {
	return r.refs.Load() > 0
}

// WeakRef implements Referable.
func (r *RefCounted) WeakRef() WeakHandle {
	return refHandle{r: r}
}

type refHandle struct {
	r *RefCounted
}

func (h refHandle) Get() (Image, bool) {
	if !h.r.Live() {
		return nil, false
	}
	return h.r, true
}
