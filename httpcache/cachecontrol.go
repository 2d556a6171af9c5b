package httpcache

import (
	stderrors "errors"
	"math"
	"strconv"
	"strings"

	"github.com/pquerna/cachecontrol/cacheobject"
)

// CacheControl holds the caching directives of a request or response.
// Second counts are -1 when the directive is absent.
type CacheControl struct {
	NoCache         bool
	NoStore         bool
	MaxAgeSeconds   int
	SMaxAgeSeconds  int
	Private         bool
	Public          bool
	MustRevalidate  bool
	MaxStaleSeconds int
	MinFreshSeconds int
	OnlyIfCached    bool
	NoTransform     bool
	Immutable       bool
}

// ParseCacheControl reads the Cache-Control fields of h, plus "Pragma:
// no-cache". Request and response directives are collected into one value.
// An invalid max-age or s-maxage counts as 0 so the response is stale; other
// malformed directives are ignored.
func ParseCacheControl(h Headers) CacheControl {
	cc := CacheControl{
		MaxAgeSeconds:   -1,
		SMaxAgeSeconds:  -1,
		MaxStaleSeconds: -1,
		MinFreshSeconds: -1,
	}

	h.Range(func(name, value string) bool {
		switch {
		case strings.EqualFold(name, "Cache-Control"):
			cc.merge(value)
		case strings.EqualFold(name, "Pragma"):
			for _, d := range strings.Split(value, ",") {
				if strings.EqualFold(strings.TrimSpace(d), "no-cache") {
					cc.NoCache = true
				}
			}
		}
		return true
	})
	return cc
}

// merge applies one Cache-Control field value. When the parsers reject the
// value as a whole it is applied one directive at a time.
func (cc *CacheControl) merge(value string) {
	if cc.mergeParsed(value) {
		return
	}
	for _, part := range strings.Split(value, ",") {
		if cc.mergeParsed(part) {
			continue
		}
		name, _, _ := strings.Cut(part, "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "max-age":
			cc.MaxAgeSeconds = 0
		case "s-maxage":
			cc.SMaxAgeSeconds = 0
		}
	}
}

// mergeParsed reports whether both the request and response parsers accepted
// value.
func (cc *CacheControl) mergeParsed(value string) bool {
	req, reqErr := cacheobject.ParseRequestCacheControl(value)
	if reqErr == nil {
		cc.mergeRequest(req)
	}
	resp, respErr := cacheobject.ParseResponseCacheControl(value)
	if respErr == nil {
		cc.mergeResponse(resp)
	}
	return reqErr == nil && respErr == nil
}

func (cc *CacheControl) mergeRequest(d *cacheobject.RequestCacheDirectives) {
	if d.MaxAge != -1 {
		cc.MaxAgeSeconds = int(d.MaxAge)
	}
	switch {
	case d.MaxStale != -1:
		cc.MaxStaleSeconds = int(d.MaxStale)
	case d.MaxStaleSet:
		cc.MaxStaleSeconds = math.MaxInt32
	}
	if d.MinFresh != -1 {
		cc.MinFreshSeconds = int(d.MinFresh)
	}
	cc.NoCache = cc.NoCache || d.NoCache
	cc.NoStore = cc.NoStore || d.NoStore
	cc.NoTransform = cc.NoTransform || d.NoTransform
	cc.OnlyIfCached = cc.OnlyIfCached || d.OnlyIfCached
}

func (cc *CacheControl) mergeResponse(d *cacheobject.ResponseCacheDirectives) {
	if d.MaxAge != -1 {
		cc.MaxAgeSeconds = int(d.MaxAge)
	}
	if d.SMaxAge != -1 {
		cc.SMaxAgeSeconds = int(d.SMaxAge)
	}
	cc.NoCache = cc.NoCache || d.NoCachePresent
	cc.NoStore = cc.NoStore || d.NoStore
	cc.NoTransform = cc.NoTransform || d.NoTransform
	cc.Private = cc.Private || d.PrivatePresent
	cc.Public = cc.Public || d.Public
	cc.MustRevalidate = cc.MustRevalidate || d.MustRevalidate
	cc.Immutable = cc.Immutable || d.Immutable
}

// parseSeconds parses a delta-seconds header value such as Age, clamping
// overflow to MaxInt32.
func parseSeconds(s string, fallback int) int {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if stderrors.Is(err, strconv.ErrRange) && !strings.HasPrefix(s, "-") {
			return math.MaxInt32
		}
		return fallback
	}
	if v < 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

// String renders the directives that are set.
func (cc CacheControl) String() string {
	var parts []string
	flag := func(set bool, name string) {
		if set {
			parts = append(parts, name)
		}
	}
	seconds := func(v int, name string) {
		if v >= 0 {
			parts = append(parts, name+"="+strconv.Itoa(v))
		}
	}

	flag(cc.NoCache, "no-cache")
	flag(cc.NoStore, "no-store")
	seconds(cc.MaxAgeSeconds, "max-age")
	seconds(cc.SMaxAgeSeconds, "s-maxage")
	flag(cc.Private, "private")
	flag(cc.Public, "public")
	flag(cc.MustRevalidate, "must-revalidate")
	seconds(cc.MaxStaleSeconds, "max-stale")
	seconds(cc.MinFreshSeconds, "min-fresh")
	flag(cc.OnlyIfCached, "only-if-cached")
	flag(cc.NoTransform, "no-transform")
	flag(cc.Immutable, "immutable")
	return strings.Join(parts, ", ")
}
