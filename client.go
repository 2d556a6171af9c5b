package imagecache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/imagecache/config"
	"github.com/jmgilman/go/imagecache/diskcache"
	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/fetch"
	"github.com/jmgilman/go/imagecache/fs/core"
	"github.com/jmgilman/go/imagecache/httpcache"
	"github.com/jmgilman/go/imagecache/internal/logging"
	"github.com/jmgilman/go/imagecache/internal/metrics"
	"github.com/jmgilman/go/imagecache/memory"
)

var (
	// ErrClosed is returned by Load after Close.
	ErrClosed = errors.New(errors.CodeInvalidInput, "image cache client is closed")

	// ErrNoDecoder is returned when no registered decoder accepts the fetched
	// MIME type.
	ErrNoDecoder = errors.New(errors.CodeInvalidInput, "no decoder for MIME type")
)

// DecodeInfo describes the bytes handed to a Decoder.
type DecodeInfo struct {
	URL      string
	MimeType string
	// SizeHint is the caller's requested size, or 0.
	SizeHint int64
	Source   fetch.DataSource
}

// Decoder turns encoded bytes into an image.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader, info DecodeInfo) (memory.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, r io.Reader, info DecodeInfo) (memory.Image, error)

// Decode calls f.
func (f DecoderFunc) Decode(ctx context.Context, r io.Reader, info DecodeInfo) (memory.Image, error) {
	return f(ctx, r, info)
}

// MatchFunc reports whether a decoder accepts a MIME type.
type MatchFunc func(mimeType string) bool

// MatchPrefix accepts MIME types starting with prefix.
func MatchPrefix(prefix string) MatchFunc {
	return func(mt string) bool { return strings.HasPrefix(mt, prefix) }
}

// MatchAny accepts every MIME type, including an unknown one.
func MatchAny() MatchFunc {
	return func(string) bool { return true }
}

type registration struct {
	match   MatchFunc
	decoder Decoder
}

// Option configures a Client.
type Option func(*Client)

// WithFS sets the filesystem the disk cache lives on. The configured
// directory is resolved within it.
func WithFS(fsys core.FS) Option {
	return func(c *Client) { c.fsys = fsys }
}

// WithLogger sets the logger. Without it a logger is built from the
// configured level writing to stderr.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSlogLogger logs through an existing slog.Logger. A nil logger
// discards everything.
func WithSlogLogger(logger *slog.Logger) Option {
	return WithLogger(logging.New(logger))
}

// WithDecoder registers a decoder. Decoders are tried in registration order
// and the first match wins.
func WithDecoder(match MatchFunc, d Decoder) Option {
	return func(c *Client) { c.decoders = append(c.decoders, registration{match: match, decoder: d}) }
}

// WithReferencer overrides how the memory cache creates weak handles.
func WithReferencer(r memory.Referencer) Option {
	return func(c *Client) { c.referencer = r }
}

// WithClock overrides the time source used for HTTP freshness.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Request describes an image to load.
type Request struct {
	URL string
	// Key identifies the decoded image in memory. It defaults to a key with
	// URL as its primary part.
	Key memory.Key
	// Header is sent with network requests.
	Header httpcache.Headers
	// DiskCacheKey defaults to URL.
	DiskCacheKey string
	// SizeHint is passed to the decoder.
	SizeHint int64
	// Extras are stored next to the decoded image in memory.
	Extras map[string]any
}

// Result is a loaded image.
type Result struct {
	Image    memory.Image
	Extras   map[string]any
	MimeType string
	Source   fetch.DataSource
}

// Client loads images. It is safe for concurrent use.
type Client struct {
	memory  *memory.Cache
	disk    *diskcache.Cache
	fetcher *fetch.Fetcher

	fsys       core.FS
	decoders   []registration
	referencer memory.Referencer
	now        func() time.Time
	logger     *logging.Logger
	metrics    *metrics.Metrics

	closed atomic.Bool
}

// New creates a Client from cfg. client performs network round trips and may
// be nil when network reads are disabled.
func New(cfg config.Config, client fetch.NetworkClient, opts ...Option) (*Client, error) {
	if err := cfg.Validate(context.Background()); err != nil {
		return nil, err
	}

	c := &Client{metrics: metrics.New()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		logger, err := cfg.Logger(os.Stderr)
		if err != nil {
			return nil, err
		}
		c.logger = logger
	}

	memOpts := []memory.Option{memory.WithLogger(c.logger), memory.WithMetrics(c.metrics)}
	if c.referencer != nil {
		memOpts = append(memOpts, memory.WithReferencer(c.referencer))
	}
	mem, err := memory.New(cfg.MemoryCache(), memOpts...)
	if err != nil {
		return nil, err
	}
	c.memory = mem

	fetchCfg, err := cfg.Fetch()
	if err != nil {
		return nil, err
	}
	fetchOpts := []fetch.Option{fetch.WithLogger(c.logger), fetch.WithMetrics(c.metrics)}
	if c.now != nil {
		fetchOpts = append(fetchOpts, fetch.WithClock(c.now))
	}

	if diskCfg, enabled := cfg.DiskCache(); enabled {
		diskOpts := []diskcache.Option{diskcache.WithLogger(c.logger), diskcache.WithMetrics(c.metrics)}
		if c.fsys != nil {
			diskOpts = append(diskOpts, diskcache.WithFS(c.fsys))
		}
		disk, err := diskcache.New(diskCfg, diskOpts...)
		if err != nil {
			return nil, err
		}
		// Temp files left behind by a crash are never committed.
		if err := disk.CleanupTempFiles(); err != nil {
			c.logger.Warn(context.Background(), "failed to clean up temporary cache files", "error", err.Error())
		}
		c.disk = disk
		fetchOpts = append(fetchOpts, fetch.WithDiskCache(disk))
	}

	fetcher, err := fetch.New(fetchCfg, client, fetchOpts...)
	if err != nil {
		return nil, err
	}
	c.fetcher = fetcher
	return c, nil
}

// Load returns the image for req from the fastest tier that has it.
func (c *Client) Load(ctx context.Context, req Request) (*Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if req.URL == "" {
		return nil, errors.New(errors.CodeInvalidInput, "request URL cannot be empty")
	}

	key := req.Key
	if key.Primary() == "" {
		key = memory.NewKey(req.URL, nil)
	}
	if v, ok := c.memory.Get(key); ok {
		return &Result{Image: v.Image, Extras: v.Extras, Source: fetch.SourceMemory}, nil
	}

	res, err := c.fetcher.Fetch(ctx, fetch.Request{
		URL:          req.URL,
		Header:       req.Header,
		DiskCacheKey: req.DiskCacheKey,
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	dec := c.decoderFor(res.MimeType)
	if dec == nil {
		return nil, errors.WithContext(ErrNoDecoder, "mime_type", res.MimeType)
	}

	start := time.Now()
	img, err := dec.Decode(ctx, res.Body, DecodeInfo{
		URL:      req.URL,
		MimeType: res.MimeType,
		SizeHint: req.SizeHint,
		Source:   res.Source,
	})
	if err != nil {
		c.metrics.RecordError()
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "failed to decode %s", res.MimeType)
	}
	if img == nil {
		return nil, errors.Newf(errors.CodeInternal, "decoder for %s returned no image", res.MimeType)
	}
	c.logger.Debug(ctx, "decoded image",
		"key", key.String(),
		"mime_type", res.MimeType,
		"source", res.Source.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if img.Shareable() {
		c.memory.Set(key, memory.Value{Image: img, Extras: req.Extras})
	}
	return &Result{Image: img, Extras: req.Extras, MimeType: res.MimeType, Source: res.Source}, nil
}

func (c *Client) decoderFor(mimeType string) Decoder {
	for _, r := range c.decoders {
		if r.match(mimeType) {
			return r.decoder
		}
	}
	return nil
}

// Memory returns the memory cache.
func (c *Client) Memory() *memory.Cache { return c.memory }

// Disk returns the disk cache, or nil when it is disabled.
func (c *Client) Disk() *diskcache.Cache { return c.disk }

// Metrics returns a snapshot of the cache counters.
func (c *Client) Metrics() metrics.Snapshot { return c.metrics.Snapshot() }

// Close stops the client from accepting loads. Images already handed out
// stay valid. It is safe to call more than once.
func (c *Client) Close() error {
	c.closed.Store(true)
	return nil
}
