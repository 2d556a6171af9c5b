package httpcache

import (
	"math"
	"net/http"
	"strings"
	"time"
)

// Decision summarizes a Strategy.
type Decision int

const (
	// FetchNetwork means the cache is unusable; make an unconditional request.
	FetchNetwork Decision = iota
	// ServeCached means the cached response is fresh enough to use as-is.
	ServeCached
	// Revalidate means make the conditional NetworkRequest and use the cached
	// body if the origin answers 304.
	Revalidate
	// Unsatisfiable means the request needs the network but forbids it.
	Unsatisfiable
)

func (d Decision) String() string {
	switch d {
	case ServeCached:
		return "serve_cached"
	case Revalidate:
		return "revalidate"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return "fetch_network"
	}
}

// Strategy says whether to use the network, the cache, or both. A nil
// NetworkRequest means no round trip; a nil CacheResponse means the cache
// must not be used.
type Strategy struct {
	NetworkRequest *Request
	CacheResponse  *Response
}

// Decision classifies the strategy.
func (s Strategy) Decision() Decision {
	switch {
	case s.NetworkRequest == nil && s.CacheResponse != nil:
		return ServeCached
	case s.NetworkRequest != nil && s.CacheResponse != nil:
		return Revalidate
	case s.NetworkRequest != nil:
		return FetchNetwork
	default:
		return Unsatisfiable
	}
}

const oneDay = 24 * time.Hour

// Compute decides how to satisfy req given the cached response, which may be
// nil, at time now.
func Compute(req *Request, cached *Response, now time.Time) Strategy {
	s := candidate(req, cached, now)
	if s.NetworkRequest != nil && req.CacheControl().OnlyIfCached {
		return Strategy{}
	}
	return s
}

func candidate(req *Request, cached *Response, now time.Time) Strategy {
	network := Strategy{NetworkRequest: req}

	if cached == nil {
		return network
	}
	if req.IsHTTPS() && !cached.Secure {
		return network
	}
	if !IsCacheable(req, cached) {
		return network
	}
	reqCC := req.CacheControl()
	if reqCC.NoCache || req.hasConditions() {
		return network
	}

	respCC := cached.CacheControl()
	f := newFreshness(req, cached)
	age := f.age(now)
	lifetime := f.lifetime()

	if reqCC.MaxAgeSeconds != -1 {
		lifetime = min(lifetime, seconds(reqCC.MaxAgeSeconds))
	}
	var minFresh, maxStale time.Duration
	if reqCC.MinFreshSeconds != -1 {
		minFresh = seconds(reqCC.MinFreshSeconds)
	}
	if !respCC.MustRevalidate && reqCC.MaxStaleSeconds != -1 {
		maxStale = seconds(reqCC.MaxStaleSeconds)
	}

	if !respCC.NoCache && addDurations(age, minFresh) < addDurations(lifetime, maxStale) {
		resp := cached.Clone()
		if addDurations(age, minFresh) >= lifetime {
			resp.Header.Add("Warning", `110 HttpURLConnection "Response is stale"`)
		}
		if age > oneDay && f.heuristic(respCC) {
			resp.Header.Add("Warning", `113 HttpURLConnection "Heuristic expiration"`)
		}
		return Strategy{CacheResponse: resp}
	}

	var name, value string
	switch {
	case f.etag != "":
		name, value = "If-None-Match", f.etag
	case !f.lastModified.IsZero():
		name, value = "If-Modified-Since", f.lastModifiedRaw
	case !f.served.IsZero():
		name, value = "If-Modified-Since", f.servedRaw
	default:
		return network
	}

	conditional := req.Clone()
	conditional.Header.Set(name, value)
	return Strategy{NetworkRequest: conditional, CacheResponse: cached}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// freshness holds the cached response fields that age and lifetime are
// computed from.
type freshness struct {
	req    *Request
	cached *Response

	served          time.Time
	servedRaw       string
	lastModified    time.Time
	lastModifiedRaw string
	expires         time.Time
	etag            string
	ageSeconds      int
}

func newFreshness(req *Request, cached *Response) freshness {
	h := cached.Header
	f := freshness{
		req:             req,
		cached:          cached,
		served:          h.date("Date"),
		servedRaw:       h.Get("Date"),
		lastModified:    h.date("Last-Modified"),
		lastModifiedRaw: h.Get("Last-Modified"),
		expires:         h.date("Expires"),
		etag:            h.Get("ETag"),
		ageSeconds:      -1,
	}
	if v := h.Get("Age"); v != "" {
		f.ageSeconds = parseSeconds(v, -1)
	}
	return f
}

// age is how old the response is now, including the time it spent on the
// wire when it was fetched.
func (f freshness) age(now time.Time) time.Duration {
	received := f.cached.ReceivedResponseAt

	var apparent time.Duration
	if !f.served.IsZero() {
		apparent = max(0, received.Sub(f.served))
	}
	receivedAge := apparent
	if f.ageSeconds != -1 {
		receivedAge = max(apparent, seconds(f.ageSeconds))
	}
	responseDuration := received.Sub(f.cached.SentRequestAt)
	resident := now.Sub(received)
	return addDurations(receivedAge, responseDuration, resident)
}

// addDurations sums durations, treating negative terms as 0 and saturating at
// the largest Duration.
func addDurations(ds ...time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range ds {
		d = max(0, d)
		if sum > math.MaxInt64-d {
			return math.MaxInt64
		}
		sum += d
	}
	return sum
}

// lifetime is how long the response stays fresh from when it was served.
func (f freshness) lifetime() time.Duration {
	cc := f.cached.CacheControl()
	if cc.MaxAgeSeconds != -1 {
		return seconds(cc.MaxAgeSeconds)
	}

	if !f.expires.IsZero() {
		served := f.served
		if served.IsZero() {
			served = f.cached.ReceivedResponseAt
		}
		return max(0, f.expires.Sub(served))
	}

	if !f.lastModified.IsZero() && (f.req.URL == nil || f.req.URL.RawQuery == "") {
		served := f.served
		if served.IsZero() {
			served = f.cached.SentRequestAt
		}
		if delta := served.Sub(f.lastModified); delta > 0 {
			return delta / 10
		}
	}
	return 0
}

// heuristic reports whether lifetime was guessed from Last-Modified.
func (f freshness) heuristic(cc CacheControl) bool {
	return cc.MaxAgeSeconds == -1 && f.expires.IsZero()
}

// IsCacheable reports whether resp may be stored and reused for req.
func IsCacheable(req *Request, resp *Response) bool {
	switch resp.Code {
	case http.StatusOK,
		http.StatusNonAuthoritativeInfo,
		http.StatusNoContent,
		http.StatusMultipleChoices,
		http.StatusMovedPermanently,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusGone,
		http.StatusRequestURITooLong,
		http.StatusNotImplemented,
		http.StatusPermanentRedirect:
	case http.StatusFound, http.StatusTemporaryRedirect:
		cc := resp.CacheControl()
		if resp.Header.Get("Expires") == "" && cc.MaxAgeSeconds == -1 && !cc.Public && !cc.Private {
			return false
		}
	default:
		return false
	}

	for _, v := range resp.Header.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			if strings.TrimSpace(name) == "*" {
				return false
			}
		}
	}
	return !resp.CacheControl().NoStore && !req.CacheControl().NoStore
}
