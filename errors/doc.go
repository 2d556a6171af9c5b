// Package errors provides structured error handling for the image cache.
//
// It extends Go's standard error handling with error codes, a retry
// classification and context metadata, while staying compatible with the
// standard library (errors.Is, errors.As, errors.Unwrap).
//
// # Taxonomy
//
//   - CodeConsistencyViolation: an embedder reported a negative or unstable
//     size. These are programming errors; the cache panics with the
//     PlatformError value instead of returning it.
//   - CodeIO: a disk read, write or rename failed. The disk entry involved is
//     left absent rather than partially written.
//   - CodeNetwork: the origin could not be reached or answered unsuccessfully.
//   - CodeNotModifiedWithoutCache: the origin answered 304 but no cached
//     response existed. Treated as a network-class failure.
//   - CodeUnsatisfiable: only the network could serve the request and network
//     reads were forbidden.
//
// Nothing in the cache core retries. IsRetryable exists for the caller that
// owns the retry policy:
//
//	img, err := client.Load(ctx, req)
//	if err != nil && errors.IsRetryable(err) {
//	    // schedule another attempt
//	}
//
// Wrapping preserves the classification of a wrapped PlatformError:
//
//	if err := fs.Rename(tmp, dst); err != nil {
//	    return errors.Wrapf(err, errors.CodeIO, "failed to commit %s", dst)
//	}
package errors
