package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/httpcache"
)

// NetworkResponse is a response whose body has not been read yet.
type NetworkResponse struct {
	Code               int
	Header             httpcache.Headers
	Body               io.ReadCloser
	Secure             bool
	SentRequestAt      time.Time
	ReceivedResponseAt time.Time
}

// Metadata returns the cacheable part of the response.
func (r *NetworkResponse) Metadata() *httpcache.Response {
	return &httpcache.Response{
		Code:               r.Code,
		SentRequestAt:      r.SentRequestAt,
		ReceivedResponseAt: r.ReceivedResponseAt,
		Header:             r.Header.Clone(),
		Secure:             r.Secure,
	}
}

// NetworkClient performs one HTTP round trip. It does no caching of its own.
type NetworkClient interface {
	Do(ctx context.Context, req *httpcache.Request) (*NetworkResponse, error)
}

// HTTPClient adapts an *http.Client to NetworkClient.
type HTTPClient struct {
	client *http.Client
	now    func() time.Time
}

// NewHTTPClient wraps client. A nil client uses http.DefaultClient.
func NewHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{client: client, now: time.Now}
}

// Do sends req and returns the response with its body unread.
func (c *HTTPClient) Do(ctx context.Context, req *httpcache.Request) (*NetworkResponse, error) {
	if req.URL == nil {
		return nil, errors.New(errors.CodeInvalidInput, "request URL cannot be empty")
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to build request")
	}
	hreq.Header = req.Header.ToHTTP()

	sent := c.now()
	resp, err := c.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx.Err())
		}
		return nil, errors.WrapWithContext(err, errors.CodeNetwork, "request failed", map[string]interface{}{
			"url": req.URL.Redacted(),
		})
	}

	return &NetworkResponse{
		Code:               resp.StatusCode,
		Header:             httpcache.HeadersFromHTTP(resp.Header),
		Body:               resp.Body,
		Secure:             resp.TLS != nil,
		SentRequestAt:      sent,
		ReceivedResponseAt: c.now(),
	}, nil
}
