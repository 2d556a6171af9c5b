// Package imagecache loads images through a memory cache, a disk cache and
// the network.
//
// A Client first looks for a decoded image in memory. On a miss it fetches
// the encoded bytes through the disk cache, which honors HTTP caching rules
// and revalidates stale entries, decodes them with the first registered
// decoder that accepts the MIME type, and keeps the result in memory when
// it can be shared.
//
// Basic usage:
//
//	cfg, err := config.Load(fsys, "imagecache.yaml")
//	if err != nil {
//		return err
//	}
//	client, err := imagecache.New(cfg, fetch.NewHTTPClient(nil),
//		imagecache.WithDecoder(imagecache.MatchPrefix("image/"), pngDecoder),
//	)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	res, err := client.Load(ctx, imagecache.Request{URL: "https://example.com/a.png"})
//
// Concurrent loads of the same URL share a single network round trip. Each
// caller decodes its own copy unless the first decoded image was stored in
// memory before it looked.
package imagecache
