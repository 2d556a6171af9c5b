package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmgilman/go/imagecache/errors"
)

// ErrMalformedMetadata is returned by ReadResponse for metadata it cannot
// parse. Callers treat such entries as absent.
var ErrMalformedMetadata = errors.New(errors.CodeInvalidInput, "malformed response metadata")

const secureMarker = "secure"

// Response is the cached part of a network response: everything but the
// body.
type Response struct {
	Code               int
	SentRequestAt      time.Time
	ReceivedResponseAt time.Time
	Header             Headers
	// Secure is true when the response arrived over TLS.
	Secure bool
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}

// CacheControl parses the response's caching directives.
func (r *Response) CacheControl() CacheControl {
	return ParseCacheControl(r.Header)
}

// WriteTo encodes r as lines: the code, the request and response times in
// Unix milliseconds, the header count, one "name:value" line per field, and
// finally "secure" when the response arrived over TLS. A header containing
// '\n' cannot be encoded and yields ErrMalformedMetadata.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	write := func(format string, args ...any) error {
		m, err := fmt.Fprintf(bw, format, args...)
		n += int64(m)
		return err
	}

	if err := write("%d\n%d\n%d\n%d\n", r.Code, r.SentRequestAt.UnixMilli(), r.ReceivedResponseAt.UnixMilli(), r.Header.Len()); err != nil {
		return n, err
	}
	var err error
	r.Header.Range(func(name, value string) bool {
		if strings.ContainsRune(name, '\n') || strings.ContainsRune(value, '\n') {
			err = errors.WithContext(ErrMalformedMetadata, "header", name)
			return false
		}
		err = write("%s:%s\n", name, value)
		return err == nil
	})
	if err != nil {
		return n, err
	}
	if r.Secure {
		if err := write("%s\n", secureMarker); err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadResponse decodes metadata written by WriteTo.
func ReadResponse(r io.Reader) (*Response, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	sc.Split(scanLF)

	next := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}
	readInt := func() (int64, error) {
		line, ok := next()
		if !ok {
			return 0, ErrMalformedMetadata
		}
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, errors.CodeInvalidInput, ErrMalformedMetadata.Message())
		}
		return v, nil
	}

	code, err := readInt()
	if err != nil {
		return nil, err
	}
	sent, err := readInt()
	if err != nil {
		return nil, err
	}
	received, err := readInt()
	if err != nil {
		return nil, err
	}
	count, err := readInt()
	if err != nil {
		return nil, err
	}
	if code < 100 || code > 999 || count < 0 {
		return nil, ErrMalformedMetadata
	}

	resp := &Response{
		Code:               int(code),
		SentRequestAt:      time.UnixMilli(sent),
		ReceivedResponseAt: time.UnixMilli(received),
	}
	for range count {
		line, ok := next()
		if !ok {
			return nil, ErrMalformedMetadata
		}
		name, value, found := strings.Cut(line, ":")
		if !found || name == "" {
			return nil, ErrMalformedMetadata
		}
		resp.Header.Add(name, value)
	}

	if line, ok := next(); ok {
		if line != secureMarker {
			return nil, ErrMalformedMetadata
		}
		resp.Secure = true
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "failed to read response metadata")
	}
	return resp, nil
}

// scanLF splits on '\n' only, so a '\r' in a header value survives.
func scanLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// FromHTTP captures the cacheable part of an http.Response.
func FromHTTP(resp *http.Response, sentAt, receivedAt time.Time) *Response {
	return &Response{
		Code:               resp.StatusCode,
		SentRequestAt:      sentAt,
		ReceivedResponseAt: receivedAt,
		Header:             HeadersFromHTTP(resp.Header),
		Secure:             resp.TLS != nil,
	}
}

// date parses an HTTP date header. The zero time means absent or invalid.
func (h Headers) date(name string) time.Time {
	v := h.Get(name)
	if v == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}
	return t
}
