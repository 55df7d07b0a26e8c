// Package errors provides structured error handling for coderag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Persistence errors (index files, run log)
//   - 3XX: Dependency errors (vector store, embedding service, adapters)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryPersistence indicates index and run-log file errors.
	CategoryPersistence Category = "PERSISTENCE"
	// CategoryDependency indicates a downstream service failure or timeout.
	CategoryDependency Category = "DEPENDENCY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Persistence errors (200-299)
	ErrCodeIndexRead     = "ERR_201_INDEX_READ"
	ErrCodeIndexWrite    = "ERR_202_INDEX_WRITE"
	ErrCodeIndexCorrupt  = "ERR_203_INDEX_CORRUPT"
	ErrCodeRunLogWrite   = "ERR_204_RUN_LOG_WRITE"
	ErrCodeDatasetRead   = "ERR_205_DATASET_READ"
	ErrCodeIndexLocked   = "ERR_206_INDEX_LOCKED"

	// Dependency errors (300-399)
	ErrCodeVectorUnavailable    = "ERR_301_VECTOR_UNAVAILABLE"
	ErrCodeEmbeddingUnavailable = "ERR_302_EMBEDDING_UNAVAILABLE"
	ErrCodeAdapterUnavailable   = "ERR_303_ADAPTER_UNAVAILABLE"
	ErrCodeDeadlineExceeded     = "ERR_304_DEADLINE_EXCEEDED"
	ErrCodeAuthFailed           = "ERR_305_AUTH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidDataset    = "ERR_402_INVALID_DATASET"
	ErrCodeInvalidMetricArgs = "ERR_403_INVALID_METRIC_ARGS"
	ErrCodeInvalidFilter     = "ERR_404_INVALID_FILTER"
	ErrCodeUnknownAdapter    = "ERR_405_UNKNOWN_ADAPTER"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeFusionFailed  = "ERR_502_FUSION_FAILED"
	ErrCodeSearchFailed  = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed   = "ERR_504_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryPersistence
	case '3':
		return CategoryDependency
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from the error code.
// Config and validation errors abort the current request; dependency
// errors degrade; everything else is an error.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryDependency:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes lists codes where a retry can reasonably succeed.
// Validation and auth failures (after the single re-auth) never retry.
var retryableCodes = map[string]bool{
	ErrCodeVectorUnavailable:    true,
	ErrCodeEmbeddingUnavailable: true,
	ErrCodeAdapterUnavailable:   true,
}

// isRetryableCode reports whether the code is retryable.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
