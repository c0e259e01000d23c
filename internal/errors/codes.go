// Package errors provides structured error handling for vitrine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Metadata store errors
//   - 3XX: Network/transport errors (vector store, embedding service, assets)
//   - 4XX: Validation errors (bad input, conflicts, missing entities, schema)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates metadata store errors.
	CategoryStore Category = "STORE"
	// CategoryNetwork indicates network and remote-service errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must not be retried.
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
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeDataDir        = "ERR_103_DATA_DIR"

	// Metadata store errors (200-299)
	ErrCodeStoreIO      = "ERR_201_STORE_IO"
	ErrCodeStoreCorrupt = "ERR_202_STORE_CORRUPT"
	ErrCodeStoreBusy    = "ERR_203_STORE_BUSY"

	// Network errors (300-399)
	ErrCodeNetworkTimeout   = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeVectorIndexIO    = "ERR_302_VECTOR_INDEX_UNAVAILABLE"
	ErrCodeEmbedUnavailable = "ERR_303_EMBED_SERVICE_UNAVAILABLE"
	ErrCodeAssetUnavailable = "ERR_304_ASSET_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDuplicateID       = "ERR_402_DUPLICATE_EXTERNAL_ID"
	ErrCodeNotFound          = "ERR_403_NOT_FOUND"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"
	ErrCodeSchemaMismatch    = "ERR_405_SCHEMA_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_406_INVALID_QUERY"
	ErrCodeAssetInvalid      = "ERR_407_ASSET_INVALID"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodePipelineFailed  = "ERR_504_PIPELINE_FAILED"
	ErrCodeDeadLettered    = "ERR_505_DEAD_LETTERED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "201" from "ERR_201_STORE_IO")
	numStr := code[4:7]
	if len(numStr) < 1 {
		return CategoryInternal
	}

	switch numStr[0] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal errors require operator action and must never be retried.
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeDimensionMismatch, ErrCodeSchemaMismatch,
		ErrCodeAssetInvalid, ErrCodeEmbeddingFailed, ErrCodeDeadLettered:
		return SeverityFatal
	}

	// Retryable transport errors get warning severity
	if isRetryableCode(code) {
		return SeverityWarning
	}

	// Default to error severity
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeVectorIndexIO, ErrCodeEmbedUnavailable,
		ErrCodeAssetUnavailable, ErrCodeStoreBusy:
		return true
	default:
		return false
	}
}
