package errors

import (
	"context"
	stderrors "errors"
	"maps"
)

// asPlatform returns err as a PlatformError, converting plain errors to CodeUnknown.
func asPlatform(err error) PlatformError {
	var platformErr PlatformError
	if stderrors.As(err, &platformErr) {
		return platformErr
	}
	return &platformError{
		code:           CodeUnknown,
		classification: ClassificationPermanent,
		message:        err.Error(),
		cause:          err,
	}
}

// WithContext returns a copy of err with one more context field.
// Plain errors are converted to CodeUnknown. Returns nil if err is nil.
func WithContext(err error, key string, value interface{}) PlatformError {
	if err == nil {
		return nil
	}
	return WithContextMap(err, map[string]interface{}{key: value})
}

// WithContextMap returns a copy of err with fields merged into its context.
// New fields override existing ones. Returns nil if err is nil.
func WithContextMap(err error, fields map[string]interface{}) PlatformError {
	if err == nil {
		return nil
	}

	pe := asPlatform(err)
	merged := pe.Context()
	if merged == nil {
		merged = make(map[string]interface{}, len(fields))
	}
	maps.Copy(merged, fields)

	return &platformError{
		code:           pe.Code(),
		classification: pe.Classification(),
		message:        pe.Message(),
		context:        merged,
		cause:          pe.Unwrap(),
	}
}

// WithClassification returns a copy of err with its classification overridden.
// Returns nil if err is nil.
func WithClassification(err error, classification ErrorClassification) PlatformError {
	if err == nil {
		return nil
	}

	pe := asPlatform(err)
	return &platformError{
		code:           pe.Code(),
		classification: classification,
		message:        pe.Message(),
		context:        pe.Context(),
		cause:          pe.Unwrap(),
	}
}

// FromContext converts a context error into a CodeCanceled PlatformError that
// still matches context.Canceled / context.DeadlineExceeded with errors.Is.
// Returns nil if err is nil.
func FromContext(err error) PlatformError {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, CodeCanceled, "operation canceled")
	}
	return asPlatform(err)
}
