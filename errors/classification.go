package errors

// ErrorClassification indicates whether an error should trigger a retry.
// Nothing inside the cache core retries; the classification is for the
// orchestrating caller that owns the retry policy.
type ErrorClassification string

const (
	// ClassificationRetryable indicates temporary failures that may succeed on retry.
	ClassificationRetryable ErrorClassification = "RETRYABLE"

	// ClassificationPermanent indicates failures that will not succeed on retry.
	ClassificationPermanent ErrorClassification = "PERMANENT"
)

// IsRetryable returns true if the classification indicates retry should be attempted.
func (c ErrorClassification) IsRetryable() bool {
	return c == ClassificationRetryable
}

var defaultClassifications = map[ErrorCode]ErrorClassification{
	CodeIO:                      ClassificationRetryable,
	CodeNetwork:                 ClassificationRetryable,
	CodeNotModifiedWithoutCache: ClassificationRetryable,

	CodeConsistencyViolation: ClassificationPermanent,
	CodeConflict:             ClassificationPermanent,
	CodeNotFound:             ClassificationPermanent,
	CodeUnsatisfiable:        ClassificationPermanent,
	CodeInvalidInput:         ClassificationPermanent,
	CodeInvalidConfig:        ClassificationPermanent,
	CodeCanceled:             ClassificationPermanent,
	CodeInternal:             ClassificationPermanent,
	CodeUnknown:              ClassificationPermanent,
}

// getDefaultClassification returns the default classification for an error code.
// Unmapped codes are permanent.
func getDefaultClassification(code ErrorCode) ErrorClassification {
	if class, ok := defaultClassifications[code]; ok {
		return class
	}
	return ClassificationPermanent
}
