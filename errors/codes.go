package errors

// ErrorCode represents a specific error condition.
// Error codes are string-based for debuggability.
type ErrorCode string

const (
	// Cache consistency errors.

	// CodeConsistencyViolation indicates an embedder reported a negative or unstable size.
	// It signals a programming error and is raised by panicking, never returned.
	CodeConsistencyViolation ErrorCode = "CONSISTENCY_VIOLATION"

	// CodeConflict indicates a cache entry changed state underneath an open handle.
	CodeConflict ErrorCode = "CONFLICT"

	// I/O errors.

	// CodeIO indicates a disk read, write or rename failed.
	CodeIO ErrorCode = "IO_FAILURE"

	// CodeNotFound indicates a requested entry does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// Network errors.

	// CodeNetwork indicates a transport failure or an unsuccessful response from the origin.
	CodeNetwork ErrorCode = "NETWORK_FAILURE"

	// CodeNotModifiedWithoutCache indicates the origin answered 304 Not Modified
	// but there was no cached response to combine it with.
	CodeNotModifiedWithoutCache ErrorCode = "NOT_MODIFIED_WITHOUT_CACHE"

	// CodeUnsatisfiable indicates a request could only be served from the network
	// while network reads were forbidden (only-if-cached, or reads disabled).
	CodeUnsatisfiable ErrorCode = "UNSATISFIABLE_REQUEST"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// System errors.

	// CodeCanceled indicates the caller's context was canceled.
	CodeCanceled ErrorCode = "CANCELED"

	// CodeInternal indicates an internal error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)
