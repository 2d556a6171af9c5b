package httpcache

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func httpDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// cachedAt builds a 200 response received (and sent) at the given time.
func cachedAt(receivedAt time.Time, headers ...string) *Response {
	r := &Response{Code: http.StatusOK, SentRequestAt: receivedAt, ReceivedResponseAt: receivedAt}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Add(headers[i], headers[i+1])
	}
	return r
}

func newRequest(t *testing.T, rawURL string, headers ...string) *Request {
	t.Helper()
	req, err := NewRequest(http.MethodGet, rawURL)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Add(headers[i], headers[i+1])
	}
	return req
}

func TestHeaders(t *testing.T) {
	var h Headers
	h.Add("Content-Type", "image/png")
	h.Add("x-custom", "1")
	h.Add("X-Custom", "2")

	assert.Equal(t, "image/png", h.Get("content-type"))
	assert.Equal(t, []string{"1", "2"}, h.Values("X-CUSTOM"))
	assert.True(t, h.Has("X-Custom"))
	assert.Equal(t, 3, h.Len())

	clone := h.Clone()
	h.Set("X-Custom", "3")
	assert.Equal(t, []string{"3"}, h.Values("x-custom"))
	assert.Equal(t, []string{"1", "2"}, clone.Values("x-custom"))

	h.Del("content-type")
	assert.False(t, h.Has("Content-Type"))

	var names []string
	clone.Range(func(name, _ string) bool {
		names = append(names, name)
		return true
	})
	assert.Equal(t, []string{"Content-Type", "x-custom", "X-Custom"}, names)
}

func TestHeaders_HTTPConversion(t *testing.T) {
	src := http.Header{}
	src.Add("Etag", `"abc"`)
	src.Add("Cache-Control", "max-age=60")
	src.Add("Cache-Control", "public")

	h := HeadersFromHTTP(src)
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []string{"max-age=60", "public"}, h.Values("cache-control"))

	back := h.ToHTTP()
	assert.Equal(t, src, back)
}

func TestResponse_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		secure bool
	}{
		{name: "plain", secure: false},
		{name: "secure", secure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{
				Code:               http.StatusOK,
				SentRequestAt:      now.Add(123 * time.Millisecond),
				ReceivedResponseAt: now.Add(456 * time.Millisecond),
				Secure:             tt.secure,
			}
			resp.Header.Add("Content-Type", "image/png")
			resp.Header.Add("set-cookie", "a=1")
			resp.Header.Add("Set-Cookie", "b=2")
			resp.Header.Add("X-Url", "http://example.com:8080/x")

			var buf bytes.Buffer
			n, err := resp.WriteTo(&buf)
			require.NoError(t, err)
			assert.Equal(t, int64(buf.Len()), n)

			got, err := ReadResponse(&buf)
			require.NoError(t, err)
			assert.Equal(t, resp.Code, got.Code)
			assert.True(t, resp.SentRequestAt.Equal(got.SentRequestAt))
			assert.True(t, resp.ReceivedResponseAt.Equal(got.ReceivedResponseAt))
			assert.Equal(t, resp.Header, got.Header)
			assert.Equal(t, tt.secure, got.Secure)
		})
	}
}

func TestResponse_CarriageReturnRoundTrips(t *testing.T) {
	resp := &Response{Code: http.StatusOK}
	resp.Header.Add("X-Trailing", "value\r")
	resp.Header.Add("X-Inner", "a\rb")

	var buf bytes.Buffer
	_, err := resp.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, "value\r", got.Header.Get("X-Trailing"))
	assert.Equal(t, "a\rb", got.Header.Get("X-Inner"))
}

func TestResponse_WriteToRejectsNewlines(t *testing.T) {
	resp := &Response{Code: http.StatusOK}
	resp.Header.Add("X-Injected", "a\nsecure")

	var buf bytes.Buffer
	_, err := resp.WriteTo(&buf)
	assert.ErrorIs(t, err, ErrMalformedMetadata)
}

func TestResponse_Encoding(t *testing.T) {
	resp := &Response{
		Code:               200,
		SentRequestAt:      time.UnixMilli(1000),
		ReceivedResponseAt: time.UnixMilli(2000),
	}
	resp.Header.Add("ETag", `"v1"`)

	var buf bytes.Buffer
	_, err := resp.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "200\n1000\n2000\n1\nETag:\"v1\"\n", buf.String())
}

func TestReadResponse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "non numeric code", input: "abc\n1\n2\n0\n"},
		{name: "missing timestamps", input: "200\n1\n"},
		{name: "negative header count", input: "200\n1\n2\n-1\n"},
		{name: "missing header lines", input: "200\n1\n2\n2\nA:b\n"},
		{name: "header without colon", input: "200\n1\n2\n1\nnocolon\n"},
		{name: "unexpected trailer", input: "200\n1\n2\n0\ngarbage\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadResponse(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, ErrMalformedMetadata)
		})
	}
}

func TestParseCacheControl(t *testing.T) {
	var h Headers
	h.Add("Cache-Control", `max-age=60, private="set-cookie, x-foo", must-revalidate`)
	h.Add("cache-control", "max-stale, min-fresh=5, only-if-cached, immutable")
	h.Add("Pragma", "no-cache")

	cc := ParseCacheControl(h)
	assert.Equal(t, 60, cc.MaxAgeSeconds)
	assert.True(t, cc.Private)
	assert.True(t, cc.MustRevalidate)
	assert.Greater(t, cc.MaxStaleSeconds, 0)
	assert.Equal(t, 5, cc.MinFreshSeconds)
	assert.True(t, cc.OnlyIfCached)
	assert.True(t, cc.Immutable)
	assert.True(t, cc.NoCache)
	assert.False(t, cc.NoStore)
	assert.Equal(t, -1, cc.SMaxAgeSeconds)
}

func TestParseCacheControl_Values(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{header: "max-age=0", want: 0},
		{header: "max-age=-5", want: 0},
		{header: "max-age=abc", want: 0},
		{header: "max-age=abc, s-maxage=10", want: 0},
		{header: `max-age="30"`, want: 30},
		{header: "max-age=99999999999999999999", want: 2147483647},
		{header: "public", want: -1},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			var h Headers
			h.Add("Cache-Control", tt.header)
			assert.Equal(t, tt.want, ParseCacheControl(h).MaxAgeSeconds)
		})
	}
}

func TestParseCacheControl_MalformedDirectives(t *testing.T) {
	var h Headers
	h.Add("Cache-Control", `no-cache="Set-Cookie", max-age=bad, public, s-maxage=-1`)
	h.Add("Pragma", "x-foo, NO-CACHE")

	cc := ParseCacheControl(h)
	assert.True(t, cc.NoCache)
	assert.True(t, cc.Public)
	assert.Equal(t, 0, cc.MaxAgeSeconds)
	assert.Equal(t, 0, cc.SMaxAgeSeconds)
	assert.Equal(t, -1, cc.MaxStaleSeconds)
}

func TestParseCacheControl_MaxStaleValue(t *testing.T) {
	var h Headers
	h.Add("Cache-Control", "max-stale=30")
	assert.Equal(t, 30, ParseCacheControl(h).MaxStaleSeconds)

	var bare Headers
	bare.Add("Cache-Control", "max-stale")
	assert.Equal(t, 2147483647, ParseCacheControl(bare).MaxStaleSeconds)
}

func TestCacheControl_String(t *testing.T) {
	var h Headers
	h.Add("Cache-Control", "no-store, max-age=10, public")
	assert.Equal(t, "no-store, max-age=10, public", ParseCacheControl(h).String())
}

func TestCompute_MaxAge(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		headers  []string
		want     Decision
		validate string
	}{
		{
			name:    "fresh",
			age:     30 * time.Second,
			headers: []string{"Cache-Control", "max-age=60"},
			want:    ServeCached,
		},
		{
			name:     "stale with etag",
			age:      90 * time.Second,
			headers:  []string{"Cache-Control", "max-age=60", "ETag", `"v1"`},
			want:     Revalidate,
			validate: `If-None-Match: "v1"`,
		},
		{
			name:    "stale without validators",
			age:     90 * time.Second,
			headers: []string{"Cache-Control", "max-age=60"},
			want:    FetchNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, "http://example.com/image.png")
			cached := cachedAt(now.Add(-tt.age), tt.headers...)

			s := Compute(req, cached, now)
			assert.Equal(t, tt.want, s.Decision())

			switch tt.want {
			case ServeCached:
				assert.Nil(t, s.NetworkRequest)
				assert.False(t, s.CacheResponse.Header.Has("Warning"))
			case Revalidate:
				name, value, _ := strings.Cut(tt.validate, ": ")
				assert.Equal(t, value, s.NetworkRequest.Header.Get(name))
				assert.Same(t, cached, s.CacheResponse)
				assert.False(t, req.Header.Has(name), "caller request is not modified")
			case FetchNetwork:
				assert.Same(t, req, s.NetworkRequest)
				assert.Nil(t, s.CacheResponse)
			}
		})
	}
}

func TestCompute_Validators(t *testing.T) {
	lastModified := now.Add(-48 * time.Hour)
	served := now.Add(-time.Hour)

	tests := []struct {
		name    string
		headers []string
		header  string
		value   string
	}{
		{
			name:    "etag wins",
			headers: []string{"ETag", `"x"`, "Last-Modified", httpDate(lastModified), "Date", httpDate(served), "Cache-Control", "no-cache"},
			header:  "If-None-Match",
			value:   `"x"`,
		},
		{
			name:    "last modified",
			headers: []string{"Last-Modified", httpDate(lastModified), "Date", httpDate(served), "Cache-Control", "no-cache"},
			header:  "If-Modified-Since",
			value:   httpDate(lastModified),
		},
		{
			name:    "date",
			headers: []string{"Date", httpDate(served)},
			header:  "If-Modified-Since",
			value:   httpDate(served),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, "http://example.com/a.png")
			s := Compute(req, cachedAt(served, tt.headers...), now)
			require.Equal(t, Revalidate, s.Decision())
			assert.Equal(t, tt.value, s.NetworkRequest.Header.Get(tt.header))
		})
	}
}

func TestCompute_DiscardsCache(t *testing.T) {
	fresh := []string{"Cache-Control", "max-age=3600", "ETag", `"v"`}

	tests := []struct {
		name   string
		url    string
		req    []string
		cached *Response
	}{
		{name: "no cached response", url: "http://example.com/a"},
		{
			name:   "insecure response for https request",
			url:    "https://example.com/a",
			cached: cachedAt(now, fresh...),
		},
		{
			name:   "no-store response",
			url:    "http://example.com/a",
			cached: cachedAt(now, "Cache-Control", "no-store, max-age=3600"),
		},
		{
			name:   "vary star",
			url:    "http://example.com/a",
			cached: cachedAt(now, append([]string{"Vary", "Accept, *"}, fresh...)...),
		},
		{
			name:   "uncacheable status",
			url:    "http://example.com/a",
			cached: &Response{Code: http.StatusInternalServerError, ReceivedResponseAt: now},
		},
		{
			name:   "temporary redirect without freshness",
			url:    "http://example.com/a",
			cached: &Response{Code: http.StatusFound, ReceivedResponseAt: now},
		},
		{
			name:   "request no-cache",
			url:    "http://example.com/a",
			req:    []string{"Cache-Control", "no-cache"},
			cached: cachedAt(now, fresh...),
		},
		{
			name:   "request pragma no-cache",
			url:    "http://example.com/a",
			req:    []string{"Pragma", "no-cache"},
			cached: cachedAt(now, fresh...),
		},
		{
			name:   "request conditions",
			url:    "http://example.com/a",
			req:    []string{"If-None-Match", `"other"`},
			cached: cachedAt(now, fresh...),
		},
		{
			name:   "request no-store",
			url:    "http://example.com/a",
			req:    []string{"Cache-Control", "no-store"},
			cached: cachedAt(now, fresh...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t, tt.url, tt.req...)
			s := Compute(req, tt.cached, now)
			assert.Equal(t, FetchNetwork, s.Decision())
			assert.Same(t, req, s.NetworkRequest)
		})
	}
}

func TestCompute_SecureResponseForHTTPS(t *testing.T) {
	cached := cachedAt(now, "Cache-Control", "max-age=60")
	cached.Secure = true
	s := Compute(newRequest(t, "https://example.com/a"), cached, now)
	assert.Equal(t, ServeCached, s.Decision())
}

func TestCompute_RequestDirectives(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		response string
		request  string
		want     Decision
		warning  bool
	}{
		{name: "max-stale serves stale", age: 90 * time.Second, response: "max-age=60", request: "max-stale=60", want: ServeCached, warning: true},
		{name: "unbounded max-stale", age: time.Hour, response: "max-age=60", request: "max-stale", want: ServeCached, warning: true},
		{name: "must-revalidate ignores max-stale", age: 90 * time.Second, response: "max-age=60, must-revalidate", request: "max-stale=60", want: FetchNetwork},
		{name: "min-fresh", age: 30 * time.Second, response: "max-age=60", request: "min-fresh=40", want: FetchNetwork},
		{name: "request max-age", age: 30 * time.Second, response: "max-age=60", request: "max-age=10", want: FetchNetwork},
		{name: "response no-cache", age: 0, response: "no-cache, max-age=60", request: "", want: FetchNetwork},
		{name: "only-if-cached fresh", age: 30 * time.Second, response: "max-age=60", request: "only-if-cached", want: ServeCached},
		{name: "only-if-cached stale", age: 90 * time.Second, response: "max-age=60", request: "only-if-cached", want: Unsatisfiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqHeaders []string
			if tt.request != "" {
				reqHeaders = []string{"Cache-Control", tt.request}
			}
			req := newRequest(t, "http://example.com/a", reqHeaders...)
			s := Compute(req, cachedAt(now.Add(-tt.age), "Cache-Control", tt.response), now)

			assert.Equal(t, tt.want, s.Decision())
			if tt.want == ServeCached {
				assert.Equal(t, tt.warning, strings.HasPrefix(s.CacheResponse.Header.Get("Warning"), "110"))
			}
		})
	}
}

func TestCompute_OnlyIfCachedWithoutCache(t *testing.T) {
	req := newRequest(t, "http://example.com/a", "Cache-Control", "only-if-cached")
	s := Compute(req, nil, now)
	assert.Equal(t, Unsatisfiable, s.Decision())
	assert.Nil(t, s.NetworkRequest)
	assert.Nil(t, s.CacheResponse)
}

func TestCompute_Age(t *testing.T) {
	// Received 20s ago but already 50s old according to the origin.
	cached := cachedAt(now.Add(-20*time.Second), "Cache-Control", "max-age=60", "Age", "50")
	s := Compute(newRequest(t, "http://example.com/a"), cached, now)
	assert.Equal(t, FetchNetwork, s.Decision())

	// The round trip counts towards the age as well.
	cached = cachedAt(now.Add(-20*time.Second), "Cache-Control", "max-age=60")
	cached.SentRequestAt = cached.ReceivedResponseAt.Add(-45 * time.Second)
	s = Compute(newRequest(t, "http://example.com/a"), cached, now)
	assert.Equal(t, FetchNetwork, s.Decision())
}

func TestCompute_AncientDateIsStale(t *testing.T) {
	// The apparent age saturates and must not wrap around to a negative age.
	cached := cachedAt(now,
		"Date", "Mon, 01 Jan 1700 00:00:00 GMT",
		"Cache-Control", "max-age=0",
		"ETag", `"v1"`,
	)
	s := Compute(newRequest(t, "http://example.com/a"), cached, now)
	require.Equal(t, Revalidate, s.Decision())
	assert.Equal(t, `"v1"`, s.NetworkRequest.Header.Get("If-None-Match"))

	req := newRequest(t, "http://example.com/a", "Cache-Control", "max-stale, min-fresh=10")
	assert.Equal(t, Revalidate, Compute(req, cached, now).Decision())
}

func TestAddDurations(t *testing.T) {
	const maxDuration = time.Duration(1<<63 - 1)
	assert.Equal(t, 3*time.Second, addDurations(time.Second, 2*time.Second))
	assert.Equal(t, time.Second, addDurations(-time.Hour, time.Second))
	assert.Equal(t, maxDuration, addDurations(maxDuration, time.Second, time.Hour))
	assert.Equal(t, time.Duration(0), addDurations())
}

func TestCompute_Expires(t *testing.T) {
	served := now.Add(-30 * time.Second)
	cached := cachedAt(served, "Date", httpDate(served), "Expires", httpDate(served.Add(time.Minute)))
	s := Compute(newRequest(t, "http://example.com/a"), cached, now)
	assert.Equal(t, ServeCached, s.Decision())

	cached = cachedAt(served, "Date", httpDate(served), "Expires", httpDate(served.Add(10*time.Second)))
	s = Compute(newRequest(t, "http://example.com/a"), cached, now)
	assert.Equal(t, Revalidate, s.Decision())
}

func TestCompute_HeuristicFreshness(t *testing.T) {
	served := now.Add(-25 * time.Hour)
	headers := []string{
		"Date", httpDate(served),
		"Last-Modified", httpDate(served.Add(-500 * time.Hour)),
	}

	s := Compute(newRequest(t, "http://example.com/a.png"), cachedAt(served, headers...), now)
	require.Equal(t, ServeCached, s.Decision())
	assert.Contains(t, s.CacheResponse.Header.Values("Warning"), `113 HttpURLConnection "Heuristic expiration"`)

	s = Compute(newRequest(t, "http://example.com/a.png?v=2"), cachedAt(served, headers...), now)
	assert.Equal(t, Revalidate, s.Decision(), "no heuristic for URLs with a query")
}

func TestIsCacheable(t *testing.T) {
	req := newRequest(t, "http://example.com/a")
	tests := []struct {
		name string
		resp *Response
		want bool
	}{
		{name: "ok", resp: cachedAt(now), want: true},
		{name: "not found", resp: &Response{Code: http.StatusNotFound}, want: true},
		{name: "partial content", resp: &Response{Code: http.StatusPartialContent}, want: false},
		{name: "found with max-age", resp: &Response{Code: http.StatusFound, Header: headersOf("Cache-Control", "max-age=10")}, want: true},
		{name: "temporary redirect with expires", resp: &Response{Code: http.StatusTemporaryRedirect, Header: headersOf("Expires", httpDate(now))}, want: true},
		{name: "no-store", resp: &Response{Code: http.StatusOK, Header: headersOf("Cache-Control", "no-store")}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCacheable(req, tt.resp))
		})
	}
}

func headersOf(kv ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestCombine(t *testing.T) {
	cached := &Response{
		Code:               http.StatusOK,
		SentRequestAt:      now.Add(-time.Hour),
		ReceivedResponseAt: now.Add(-time.Hour),
		Header: headersOf(
			"Content-Type", "image/png",
			"Content-Length", "10",
			"ETag", `"a"`,
			"Warning", `110 - "Response is stale"`,
			"Warning", `299 - "Misc persistent warning"`,
			"Cache-Control", "max-age=60",
			"X-Keep", "1",
			"Connection", "keep-alive",
		),
	}
	network := &Response{
		Code:               http.StatusNotModified,
		SentRequestAt:      now.Add(-time.Second),
		ReceivedResponseAt: now,
		Secure:             true,
		Header: headersOf(
			"ETag", `"b"`,
			"Cache-Control", "max-age=120",
			"Content-Length", "0",
			"Connection", "close",
		),
	}

	got := Combine(cached, network)

	assert.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, network.SentRequestAt, got.SentRequestAt)
	assert.Equal(t, network.ReceivedResponseAt, got.ReceivedResponseAt)
	assert.True(t, got.Secure)

	h := got.Header
	assert.Equal(t, []string{"image/png"}, h.Values("Content-Type"))
	assert.Equal(t, []string{"10"}, h.Values("Content-Length"))
	assert.Equal(t, []string{`"b"`}, h.Values("ETag"))
	assert.Equal(t, []string{"max-age=120"}, h.Values("Cache-Control"))
	assert.Equal(t, []string{"1"}, h.Values("X-Keep"))
	assert.Equal(t, []string{"close"}, h.Values("Connection"))
	assert.Equal(t, []string{`299 - "Misc persistent warning"`}, h.Values("Warning"))
}
