// Package errors provides the structured error taxonomy for amanrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and snapshot I/O errors
//   - 3XX: Retrieval source and collaborator errors (recoverable)
//   - 4XX: Validation errors
//   - 5XX: Fusion errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates store and snapshot I/O errors.
	CategoryIO Category = "IO"
	// CategorySource indicates a retrieval source or external collaborator failed.
	CategorySource Category = "SOURCE"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryFusion indicates the fusion pipeline itself could not produce a result.
	CategoryFusion Category = "FUSION"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal means no grounded result can be produced for the request.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning means a degraded result is still usable.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	// Storage errors (200-299)
	ErrCodeSnapshotNotFound = "ERR_201_SNAPSHOT_NOT_FOUND"
	ErrCodeSnapshotCorrupt  = "ERR_202_SNAPSHOT_CORRUPT"
	ErrCodeStoreIO          = "ERR_203_STORE_IO"

	// Source errors (300-399)
	ErrCodeSourceTimeout       = "ERR_301_SOURCE_TIMEOUT"
	ErrCodeSourceUnavailable   = "ERR_302_SOURCE_UNAVAILABLE"
	ErrCodeRerankerUnavailable = "ERR_303_RERANKER_UNAVAILABLE"
	ErrCodeCircuitOpen         = "ERR_304_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery = "ERR_402_INVALID_QUERY"

	// Fusion errors (500-599)
	ErrCodeAllSourcesFailed = "ERR_501_ALL_SOURCES_FAILED"
	ErrCodeInternal         = "ERR_502_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryFusion
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategorySource
	case '4':
		return CategoryValidation
	default:
		return CategoryFusion
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeInvalidInput, ErrCodeAllSourcesFailed:
		return SeverityFatal
	case ErrCodeSourceTimeout, ErrCodeSourceUnavailable, ErrCodeInvalidQuery,
		ErrCodeRerankerUnavailable, ErrCodeCircuitOpen:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether the caller may retry after this error.
// The fusion engine itself never retries.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeSourceTimeout, ErrCodeSourceUnavailable, ErrCodeRerankerUnavailable, ErrCodeStoreIO:
		return true
	default:
		return false
	}
}
