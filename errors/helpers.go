package errors

import (
	stderrors "errors"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// GetCode extracts the code of the outermost PlatformError in err's chain.
// Returns CodeUnknown if err is nil or carries no PlatformError.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var platformErr PlatformError
	if stderrors.As(err, &platformErr) {
		return platformErr.Code()
	}
	return CodeUnknown
}

// HasCode reports whether the outermost PlatformError in err's chain has code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetClassification extracts the classification of the outermost PlatformError.
// Returns ClassificationPermanent for nil and plain errors so that unknown
// failures are not retried.
func GetClassification(err error) ErrorClassification {
	if err == nil {
		return ClassificationPermanent
	}

	var platformErr PlatformError
	if stderrors.As(err, &platformErr) {
		return platformErr.Classification()
	}
	return ClassificationPermanent
}

// IsRetryable returns true if the error is classified as retryable.
func IsRetryable(err error) bool {
	return GetClassification(err).IsRetryable()
}
