package httpcache

import (
	"net/http"
	"net/url"

	"github.com/jmgilman/go/imagecache/errors"
)

// Request is the part of a network request the freshness strategy looks at.
type Request struct {
	Method string
	URL    *url.URL
	Header Headers
}

// NewRequest parses rawURL and returns a request with no headers.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid request URL %q", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: method, URL: u}, nil
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	if r.URL != nil {
		u := *r.URL
		c.URL = &u
	}
	c.Header = r.Header.Clone()
	return &c
}

// IsHTTPS reports whether the request needs a secure transport.
func (r *Request) IsHTTPS() bool {
	return r.URL != nil && r.URL.Scheme == "https"
}

// CacheControl parses the request's caching directives.
func (r *Request) CacheControl() CacheControl {
	return ParseCacheControl(r.Header)
}

// hasConditions reports whether the caller supplied its own validators.
func (r *Request) hasConditions() bool {
	return r.Header.Has("If-Modified-Since") || r.Header.Has("If-None-Match")
}
