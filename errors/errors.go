package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
)

// PlatformError extends the standard error interface with a code, a retry
// classification and optional debugging context.
type PlatformError interface {
	error

	// Code returns the error code identifying the type of error.
	Code() ErrorCode

	// Classification returns whether the error is retryable or permanent.
	Classification() ErrorClassification

	// Message returns the human-readable error message.
	Message() string

	// Context returns a copy of the attached metadata, or nil.
	Context() map[string]interface{}

	// Unwrap returns the wrapped cause, or nil.
	Unwrap() error
}

// platformError is private to force construction through package functions.
type platformError struct {
	code           ErrorCode
	classification ErrorClassification
	message        string
	context        map[string]interface{}
	cause          error
}

// Error formats as "[CODE] message" or "[CODE] message: cause".
func (e *platformError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *platformError) Code() ErrorCode                     { return e.code }
func (e *platformError) Classification() ErrorClassification { return e.classification }
func (e *platformError) Message() string                     { return e.message }
func (e *platformError) Unwrap() error                       { return e.cause }

func (e *platformError) Context() map[string]interface{} {
	if e.context == nil {
		return nil
	}
	return maps.Clone(e.context)
}

// Is matches a sentinel PlatformError by code and message, so sentinels keep
// matching after context has been attached with WithContext.
func (e *platformError) Is(target error) bool {
	t, ok := target.(*platformError)
	if !ok {
		return false
	}
	return t.code == e.code && t.message == e.message
}

// New creates a PlatformError with the default classification for code.
func New(code ErrorCode, message string) PlatformError {
	return &platformError{
		code:           code,
		classification: getDefaultClassification(code),
		message:        message,
	}
}

// Newf creates a PlatformError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) PlatformError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and message. A wrapped PlatformError keeps its
// classification; anything else gets the default for code.
// Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string) PlatformError {
	return WrapWithContext(err, code, message, nil)
}

// Wrapf wraps err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) PlatformError {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WrapWithContext wraps err and attaches a copy of ctx in one step.
// Returns nil if err is nil.
func WrapWithContext(err error, code ErrorCode, message string, ctx map[string]interface{}) PlatformError {
	if err == nil {
		return nil
	}

	classification := getDefaultClassification(code)
	var platformErr PlatformError
	if stderrors.As(err, &platformErr) {
		classification = platformErr.Classification()
	}

	var contextCopy map[string]interface{}
	if ctx != nil {
		contextCopy = maps.Clone(ctx)
	}

	return &platformError{
		code:           code,
		classification: classification,
		message:        message,
		context:        contextCopy,
		cause:          err,
	}
}

// Violationf builds a CodeConsistencyViolation error. Callers panic with it.
func Violationf(format string, args ...interface{}) PlatformError {
	return Newf(CodeConsistencyViolation, format, args...)
}
