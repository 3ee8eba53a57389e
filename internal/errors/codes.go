// Package errors provides structured error handling for relindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (including unsupported index names)
//   - 2XX: Catalog and on-disk index errors
//   - 3XX: Index transport errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates catalog or on-disk index errors.
	CategoryStore Category = "STORE"
	// CategoryTransport indicates failures talking to the index service.
	CategoryTransport Category = "TRANSPORT"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeUnsupportedIndex = "ERR_103_UNSUPPORTED_INDEX"
	ErrCodeNoIndexNames     = "ERR_104_NO_INDEX_NAMES"

	// Store errors (200-299)
	ErrCodeCatalogRead  = "ERR_201_CATALOG_READ"
	ErrCodeCatalogWrite = "ERR_202_CATALOG_WRITE"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"

	// Transport errors (300-399)
	ErrCodeTransportTimeout  = "ERR_301_TRANSPORT_TIMEOUT"
	ErrCodeTransportFailed   = "ERR_302_TRANSPORT_FAILED"
	ErrCodeUnknownIndex      = "ERR_303_UNKNOWN_INDEX"
	ErrCodeSearchUnavailable = "ERR_304_SEARCH_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeUnknownRule      = "ERR_402_UNKNOWN_RULE"
	ErrCodeInvalidAgeWindow = "ERR_403_INVALID_AGE_WINDOW"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodePartialDelete = "ERR_502_PARTIAL_DELETE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "303" from "ERR_303_UNKNOWN_INDEX")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryTransport
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeUnknownIndex:
		// Recovered by schema bootstrap during rebuild.
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeTransportTimeout, ErrCodeTransportFailed, ErrCodeSearchUnavailable:
		return true
	default:
		return false
	}
}
