// Package memory implements the in-memory tiers of the image cache.
//
// The strong tier is a size-bounded LRU of decoded images. When it evicts an
// image, or the image is removed, the image is demoted to the weak tier,
// which holds it through a WeakHandle. As long as the embedder keeps using
// the image somewhere else it can still be found in the cache; once it is
// reclaimed the weak entry goes dead and is purged.
//
// Images opt into the weak tier by implementing Referable, usually with
// WeakPointer (garbage collected images) or RefCounted (explicitly released
// images):
//
//	cache, err := memory.New(memory.DefaultConfig(64 << 20))
//	if err != nil {
//		return err
//	}
//	cache.Set(memory.NewKey(url, nil), memory.Value{Image: img})
//	if v, ok := cache.Get(memory.NewKey(url, nil)); ok {
//		draw(v.Image)
//	}
package memory
