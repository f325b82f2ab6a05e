// Package errors provides structured error handling for amanembed.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and storage errors
//   - 3XX: Run and pipeline errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Embedding provider errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and database errors.
	CategoryIO Category = "IO"
	// CategoryRun indicates embedding run errors.
	CategoryRun Category = "RUN"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryProvider indicates errors reported by an embedding provider.
	CategoryProvider Category = "PROVIDER"
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
	ErrCodeConfigNotFound  = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownProvider = "ERR_103_UNKNOWN_PROVIDER"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge   = "ERR_204_FILE_TOO_LARGE"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeStoreLocked    = "ERR_206_STORE_LOCKED"

	// Run errors (300-399)
	ErrCodeRunFailed    = "ERR_301_RUN_FAILED"
	ErrCodeRunHalted    = "ERR_302_RUN_HALTED"
	ErrCodePipelineBusy = "ERR_303_PIPELINE_BUSY"
	ErrCodeBatchFailed  = "ERR_304_BATCH_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeEmptyVector       = "ERR_407_EMPTY_VECTOR"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeInitFailed   = "ERR_506_INIT_FAILED"

	// Provider errors (600-699)
	ErrCodeRateLimited = "ERR_601_PROVIDER_RATE_LIMITED"
	ErrCodeUnavailable = "ERR_602_PROVIDER_UNAVAILABLE"
	ErrCodeNetwork     = "ERR_603_PROVIDER_NETWORK"
	ErrCodeAuth        = "ERR_604_PROVIDER_AUTH"
	ErrCodeBadRequest  = "ERR_605_PROVIDER_BAD_REQUEST"
	ErrCodeUnknown     = "ERR_606_PROVIDER_UNKNOWN"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "601" from "ERR_601_PROVIDER_RATE_LIMITED"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryRun
	case '4':
		return CategoryValidation
	case '6':
		return CategoryProvider
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeAuth, ErrCodeBadRequest, ErrCodeInitFailed:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimited, ErrCodeUnavailable, ErrCodeNetwork, ErrCodeUnknown:
		return true
	default:
		return false
	}
}
