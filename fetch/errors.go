package fetch

import "github.com/jmgilman/go/imagecache/errors"

var (
	// ErrUnsatisfiable is returned when the request can only be answered by
	// the network but network reads are forbidden.
	ErrUnsatisfiable = errors.New(errors.CodeUnsatisfiable, "request requires the network but network reads are not allowed")

	// ErrNotModifiedWithoutCache is returned when the origin answers 304 to a
	// request for which no cached response exists.
	ErrNotModifiedWithoutCache = errors.New(errors.CodeNotModifiedWithoutCache, "origin answered 304 Not Modified without a cached response")

	// ErrNetworkOnMainThread is the panic value raised when a network round
	// trip is attempted on a context marked with MarkMainThread.
	ErrNetworkOnMainThread = errors.New(errors.CodeInternal, "network request attempted on the main thread")
)
