package fetch

import (
	"context"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/jmgilman/go/imagecache/httpcache"
)

// DataSource tells where the bytes of a result came from.
type DataSource int

// Data sources, cheapest first.
const (
	SourceMemory DataSource = iota
	SourceDisk
	SourceNetwork
)

func (s DataSource) String() string {
	switch s {
	case SourceMemory:
		return "memory"
	case SourceDisk:
		return "disk"
	default:
		return "network"
	}
}

// Result is a fetched byte source. Body must be closed.
type Result struct {
	Body     io.ReadCloser
	MimeType string
	Source   DataSource
	// Response is the response metadata, when the bytes came over HTTP.
	Response *httpcache.Response
}

type mainThreadKey struct{}

// MarkMainThread marks ctx as belonging to a UI thread. Fetching on such a
// context with network reads enabled panics with ErrNetworkOnMainThread.
func MarkMainThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, mainThreadKey{}, true)
}

// IsMainThread reports whether ctx was marked with MarkMainThread.
func IsMainThread(ctx context.Context) bool {
	v, _ := ctx.Value(mainThreadKey{}).(bool)
	return v
}

// mimeType prefers the Content-Type header and falls back to the URL's file
// extension when it is missing or text/plain.
func mimeType(rawURL, contentType string) string {
	if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			return mt
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return ""
	}
	byExt := mime.TypeByExtension(strings.ToLower(ext))
	if mt, _, err := mime.ParseMediaType(byExt); err == nil {
		return mt
	}
	return ""
}

// snapshotBody reads the data stream of a snapshot and closes the snapshot
// with it.
type snapshotBody struct {
	io.ReadCloser
	snap interface{ Close() error }
}

func (b *snapshotBody) Close() error {
	err := b.ReadCloser.Close()
	_ = b.snap.Close()
	return err
}
