// Package fetch loads bytes for a URL through the disk cache.
//
// A Fetcher reads the cached entry, asks httpcache whether it can be served,
// revalidates or refetches it when needed, and writes what it receives back
// to the disk cache before handing out a byte stream. Concurrent fetches of
// the same key share one network round trip.
package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmgilman/go/imagecache/coordinator"
	"github.com/jmgilman/go/imagecache/diskcache"
	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/httpcache"
	"github.com/jmgilman/go/imagecache/internal/logging"
	"github.com/jmgilman/go/imagecache/internal/metrics"
)

// Config holds configuration for fetching.
type Config struct {
	// RespectCacheHeaders applies HTTP caching rules. When false a disk entry
	// is served whenever it exists, and every response is cached.
	RespectCacheHeaders bool
	// NetworkReadEnabled allows network round trips.
	NetworkReadEnabled bool
	// DiskReadEnabled allows serving previously cached entries.
	DiskReadEnabled bool
	// DiskWriteEnabled allows writing responses to the disk cache.
	DiskWriteEnabled bool
	// MaxConcurrentRequests bounds simultaneous round trips. 0 is unbounded.
	MaxConcurrentRequests int
	// Timeout bounds each round trip including reading the body. 0 is none.
	Timeout time.Duration
}

// DefaultConfig enables every source and honors cache headers.
func DefaultConfig() Config {
	return Config{
		RespectCacheHeaders: true,
		NetworkReadEnabled:  true,
		DiskReadEnabled:     true,
		DiskWriteEnabled:    true,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxConcurrentRequests < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "max concurrent requests must not be negative, got %d", c.MaxConcurrentRequests)
	}
	if c.Timeout < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithDiskCache enables the disk cache.
func WithDiskCache(disk *diskcache.Cache) Option {
	return func(f *Fetcher) { f.disk = disk }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithClock overrides the time source used for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// Request describes what to fetch.
type Request struct {
	URL    string
	Header httpcache.Headers
	// DiskCacheKey defaults to URL.
	DiskCacheKey string
	// MimeType overrides the type derived from the response.
	MimeType string
}

// Fetcher fetches URLs through the disk cache. It is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client NetworkClient
	disk   *diskcache.Cache
	group  coordinator.Group[*outcome]
	sem    *semaphore.Weighted

	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// outcome is what an executing fetch shares with the callers waiting on it.
type outcome struct {
	response *httpcache.Response
	mimeType string
	// onDisk means waiters should open their own snapshot; otherwise body
	// holds the bytes.
	onDisk bool
	body   []byte
}

// New creates a Fetcher.
func New(cfg Config, client NetworkClient, opts ...Option) (*Fetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil && cfg.NetworkReadEnabled {
		return nil, errors.New(errors.CodeInvalidConfig, "network client cannot be nil when network reads are enabled")
	}

	f := &Fetcher{cfg: cfg, client: client, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.NewNop()
	}
	if cfg.MaxConcurrentRequests > 0 {
		f.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests))
	}
	return f, nil
}

// Fetch returns the bytes for req. Concurrent calls with the same disk key
// wait for a single execution and then read its result independently.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.URL == "" {
		return nil, errors.New(errors.CodeInvalidInput, "request URL cannot be empty")
	}
	if f.cfg.NetworkReadEnabled && IsMainThread(ctx) {
		panic(ErrNetworkOnMainThread)
	}

	key := req.DiskCacheKey
	if key == "" {
		key = req.URL
	}
	hreq, err := httpcache.NewRequest(http.MethodGet, req.URL)
	if err != nil {
		return nil, err
	}
	hreq.Header = req.Header.Clone()

	// A waiter told to read from disk can lose the entry to eviction before
	// opening it; it then goes through the flow once more.
	for attempt := 0; ; attempt++ {
		var own *Result
		out, err := f.group.Do(ctx, key, func(ctx context.Context) (*outcome, error) {
			res, out, err := f.execute(ctx, key, hreq)
			own = res
			return out, err
		})
		if err != nil {
			f.metrics.RecordError()
			return nil, err
		}
		if own != nil {
			return withMimeType(own, req.MimeType), nil
		}

		res, ok, err := f.share(key, out)
		if err != nil || ok || attempt > 0 {
			if err == nil && !ok {
				err = errors.Newf(errors.CodeIO, "cache entry for %q disappeared", key)
			}
			if err != nil {
				return nil, err
			}
			return withMimeType(res, req.MimeType), nil
		}
	}
}

func withMimeType(res *Result, mt string) *Result {
	if mt != "" {
		res.MimeType = mt
	}
	return res
}

// share builds a waiter's result from the executor's outcome.
func (f *Fetcher) share(key string, out *outcome) (*Result, bool, error) {
	if !out.onDisk {
		return &Result{
			Body:     io.NopCloser(bytes.NewReader(out.body)),
			MimeType: out.mimeType,
			Source:   SourceNetwork,
			Response: out.response,
		}, true, nil
	}

	snap, ok := f.disk.Get(key)
	if !ok {
		return nil, false, nil
	}
	res, err := f.diskResult(snap, out.response, out.mimeType, SourceDisk)
	return res, err == nil, err
}

// execute runs the whole flow for key. The caller's result is returned
// separately from what is shared with waiters.
func (f *Fetcher) execute(ctx context.Context, key string, req *httpcache.Request) (*Result, *outcome, error) {
	var snap *diskcache.Snapshot
	if f.disk != nil && f.cfg.DiskReadEnabled {
		snap, _ = f.disk.Get(key)
	}
	// snap is nil once ownership moved into a result or editor.
	defer func() {
		if snap != nil {
			_ = snap.Close()
		}
	}()

	var cached *httpcache.Response
	if snap != nil {
		var err error
		cached, err = readMetadata(snap)
		if err != nil {
			f.logger.Warn(ctx, "discarding unreadable cache entry", "key", key, "error", err.Error())
			_ = snap.Close()
			snap = nil
			_, _ = f.disk.Remove(key)
		}
	}

	serveDisk := func(resp *httpcache.Response) (*Result, *outcome, error) {
		mt := mimeType(req.URL.String(), resp.Header.Get("Content-Type"))
		res, err := f.diskResult(snap, resp, mt, SourceDisk)
		snap = nil
		if err != nil {
			return nil, nil, err
		}
		return res, &outcome{response: resp, mimeType: mt, onDisk: true}, nil
	}

	if snap != nil && (!f.cfg.RespectCacheHeaders || !f.cfg.NetworkReadEnabled) {
		return serveDisk(cached)
	}
	if !f.cfg.NetworkReadEnabled {
		return nil, nil, ErrUnsatisfiable
	}

	strategy := httpcache.Strategy{NetworkRequest: req}
	if f.cfg.RespectCacheHeaders {
		strategy = httpcache.Compute(req, cached, f.now())
	}

	switch strategy.Decision() {
	case httpcache.ServeCached:
		return serveDisk(strategy.CacheResponse)
	case httpcache.Unsatisfiable:
		return nil, nil, ErrUnsatisfiable
	}
	if snap == nil {
		f.metrics.RecordMiss(metrics.TierDisk)
	}

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	if f.sem != nil {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, nil, errors.FromContext(err)
		}
		defer f.sem.Release(1)
	}

	start := time.Now()
	revalidation := strategy.CacheResponse != nil
	op := logging.OpNetworkFetch
	if revalidation {
		op = logging.OpRevalidate
	}

	resp, err := f.client.Do(ctx, strategy.NetworkRequest)
	if err != nil {
		logging.LogOperation(ctx, f.logger.WithKey(key), op, time.Since(start), false, 0, err)
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.Code == http.StatusNotModified {
		f.metrics.RecordNetwork(0, revalidation, true)
		logging.LogOperation(ctx, f.logger.WithKey(key), op, time.Since(start), true, 0, nil)
		if strategy.CacheResponse == nil || snap == nil {
			return nil, nil, ErrNotModifiedWithoutCache
		}
		combined := httpcache.Combine(strategy.CacheResponse, resp.Metadata())
		res, out, err := f.revalidated(ctx, key, req, snap, combined)
		snap = nil
		return res, out, err
	}

	if resp.Code < 200 || resp.Code > 299 {
		err := errors.WithContextMap(errors.Newf(errors.CodeNetwork, "unexpected response status %d", resp.Code), map[string]interface{}{
			"status": resp.Code,
			"url":    req.URL.Redacted(),
		})
		logging.LogOperation(ctx, f.logger.WithKey(key), op, time.Since(start), false, 0, err)
		return nil, nil, err
	}

	meta := resp.Metadata()
	mt := mimeType(req.URL.String(), meta.Header.Get("Content-Type"))
	res, out, err := f.store(ctx, key, strategy.NetworkRequest, snap, meta, mt, resp.Body, revalidation)
	snap = nil
	if err != nil {
		logging.LogOperation(ctx, f.logger.WithKey(key), op, time.Since(start), false, 0, err)
		return nil, nil, err
	}
	logging.LogOperation(ctx, f.logger.WithKey(key), op, time.Since(start), true, 0, nil)
	return res, out, nil
}

// revalidated persists the merged metadata of a 304 and serves the cached
// body. It takes ownership of snap.
func (f *Fetcher) revalidated(ctx context.Context, key string, req *httpcache.Request, snap *diskcache.Snapshot, combined *httpcache.Response) (*Result, *outcome, error) {
	mt := mimeType(req.URL.String(), combined.Header.Get("Content-Type"))
	out := &outcome{response: combined, mimeType: mt, onDisk: true}

	if !f.cfg.DiskWriteEnabled {
		res, err := f.diskResult(snap, combined, mt, SourceNetwork)
		return res, out, err
	}

	ed, ok := snap.CloseAndEdit()
	if !ok {
		// Other readers hold the entry; serve it without updating metadata.
		fresh, ok := f.disk.Get(key)
		if !ok {
			return nil, nil, errors.Newf(errors.CodeIO, "cache entry for %q changed during revalidation", key)
		}
		res, err := f.diskResult(fresh, combined, mt, SourceNetwork)
		return res, out, err
	}

	if err := writeMetadata(ed, combined); err != nil {
		_ = ed.Abort()
		return nil, nil, err
	}
	fresh, err := ed.CommitAndGet()
	if err != nil {
		return nil, nil, err
	}
	f.logger.Debug(ctx, "revalidated cache entry", "key", key)
	res, err := f.diskResult(fresh, combined, mt, SourceNetwork)
	return res, out, err
}

// store writes a full response to the disk cache, or buffers it when it
// cannot be cached. It takes ownership of snap.
func (f *Fetcher) store(ctx context.Context, key string, req *httpcache.Request, snap *diskcache.Snapshot, meta *httpcache.Response, mt string, body io.Reader, revalidation bool) (*Result, *outcome, error) {
	cacheable := f.disk != nil && f.cfg.DiskWriteEnabled &&
		(!f.cfg.RespectCacheHeaders || httpcache.IsCacheable(req, meta))

	if cacheable {
		var ed *diskcache.Editor
		var ok bool
		if snap != nil {
			ed, ok = snap.CloseAndEdit()
			snap = nil
		} else {
			ed, ok = f.disk.Edit(key)
		}
		if ok {
			n, fresh, err := writeEntry(ed, meta, body)
			if err != nil {
				return nil, nil, err
			}
			f.metrics.RecordNetwork(n, revalidation, false)
			res, err := f.diskResult(fresh, meta, mt, SourceNetwork)
			if err != nil {
				return nil, nil, err
			}
			return res, &outcome{response: meta, mimeType: mt, onDisk: true}, nil
		}
		f.logger.Debug(ctx, "cache entry busy, not caching response", "key", key)
	}

	if snap != nil {
		_ = snap.Close()
	}
	if f.disk != nil && f.cfg.DiskWriteEnabled && f.cfg.RespectCacheHeaders && !cacheable {
		// The stale entry must not be served again.
		_, _ = f.disk.Remove(key)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, wrapBodyError(ctx, err)
	}
	f.metrics.RecordNetwork(int64(len(data)), revalidation, false)
	res := &Result{
		Body:     io.NopCloser(bytes.NewReader(data)),
		MimeType: mt,
		Source:   SourceNetwork,
		Response: meta,
	}
	return res, &outcome{response: meta, mimeType: mt, body: data}, nil
}

// diskResult opens the data stream of snap. It takes ownership of snap.
func (f *Fetcher) diskResult(snap *diskcache.Snapshot, resp *httpcache.Response, mt string, source DataSource) (*Result, error) {
	data, err := snap.OpenData()
	if err != nil {
		_ = snap.Close()
		return nil, err
	}
	if source == SourceDisk {
		f.metrics.RecordHit(metrics.TierDisk, 0)
	}
	return &Result{
		Body:     &snapshotBody{ReadCloser: data, snap: snap},
		MimeType: mt,
		Source:   source,
		Response: resp,
	}, nil
}

func readMetadata(snap *diskcache.Snapshot) (*httpcache.Response, error) {
	r, err := snap.OpenMetadata()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return httpcache.ReadResponse(r)
}

func writeMetadata(ed *diskcache.Editor, resp *httpcache.Response) error {
	w, err := ed.CreateMetadata()
	if err != nil {
		return err
	}
	if _, err := resp.WriteTo(w); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.CodeIO, "failed to write response metadata")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.CodeIO, "failed to write response metadata")
	}
	return nil
}

// writeEntry streams body into a new version of the entry. The editor is
// aborted on failure.
func writeEntry(ed *diskcache.Editor, meta *httpcache.Response, body io.Reader) (int64, *diskcache.Snapshot, error) {
	if err := writeMetadata(ed, meta); err != nil {
		_ = ed.Abort()
		return 0, nil, err
	}

	w, err := ed.CreateData()
	if err != nil {
		_ = ed.Abort()
		return 0, nil, err
	}
	n, err := io.Copy(w, body)
	if err != nil {
		_ = w.Close()
		_ = ed.Abort()
		return 0, nil, errors.Wrap(err, errors.CodeNetwork, "failed to read response body")
	}
	if err := w.Close(); err != nil {
		_ = ed.Abort()
		return 0, nil, errors.Wrap(err, errors.CodeIO, "failed to write response body")
	}

	snap, err := ed.CommitAndGet()
	if err != nil {
		return 0, nil, err
	}
	return n, snap, nil
}

func wrapBodyError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.FromContext(ctx.Err())
	}
	return errors.Wrap(err, errors.CodeNetwork, "failed to read response body")
}
