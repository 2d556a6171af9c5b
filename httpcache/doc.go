// Package httpcache decides whether a cached HTTP response can be reused.
//
// Response is the metadata stored next to a cached body; it round-trips
// through WriteTo and ReadResponse. Compute applies the usual HTTP caching
// rules (Cache-Control, Expires, Last-Modified heuristics, validators) to
// choose between serving the cache, revalidating it with a conditional
// request, or fetching anew. Combine merges a 304 response into the cached
// one.
package httpcache
