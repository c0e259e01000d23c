package errors

import (
	stderrors "errors"
	"fmt"
)

// VitrineError is the structured error type for vitrine.
// It provides rich context for error handling, logging, and user presentation.
type VitrineError struct {
	// Code is the unique error code (e.g., "ERR_403_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *VitrineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VitrineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with VitrineError.
func (e *VitrineError) Is(target error) bool {
	if t, ok := target.(*VitrineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *VitrineError) WithDetail(key, value string) *VitrineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *VitrineError) WithSuggestion(suggestion string) *VitrineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VitrineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VitrineError {
	return &VitrineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VitrineError from an existing error.
// The error's message becomes the VitrineError message.
func Wrap(code string, err error) *VitrineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VitrineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a metadata-store error.
func StoreError(message string, cause error) *VitrineError {
	return New(ErrCodeStoreIO, message, cause)
}

// ValidationError creates a bad-input error. Never retried.
func ValidationError(message string, cause error) *VitrineError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ConflictError creates a duplicate-identifier error.
func ConflictError(message string, cause error) *VitrineError {
	return New(ErrCodeDuplicateID, message, cause)
}

// NotFoundError creates a missing-entity error. Often a legitimate
// outcome rather than a system fault.
func NotFoundError(message string, cause error) *VitrineError {
	return New(ErrCodeNotFound, message, cause)
}

// RetryableError marks a transient transport failure that callers may
// retry with backoff.
func RetryableError(message string, cause error) *VitrineError {
	return New(ErrCodeVectorIndexIO, message, cause)
}

// SchemaMismatchError signals a collection whose persisted shape differs
// from the requested one. Requires operator action, never retried.
func SchemaMismatchError(message string, cause error) *VitrineError {
	return New(ErrCodeSchemaMismatch, message, cause)
}

// EmbeddingError signals that the embedding model rejected the input.
func EmbeddingError(message string, cause error) *VitrineError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// AssetUnavailableError signals a transiently unreachable asset.
func AssetUnavailableError(message string, cause error) *VitrineError {
	return New(ErrCodeAssetUnavailable, message, cause)
}

// AssetInvalidError signals a corrupt or unsupported asset. Never retried.
func AssetInvalidError(message string, cause error) *VitrineError {
	return New(ErrCodeAssetInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VitrineError {
	return New(ErrCodeInternal, message, cause)
}

// asVitrine walks the wrap chain looking for a VitrineError.
func asVitrine(err error) (*VitrineError, bool) {
	var ve *VitrineError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable. The wrap chain is
// searched, so fmt.Errorf("...: %w", err) wrapping is transparent.
func IsRetryable(err error) bool {
	if ve, ok := asVitrine(err); ok {
		return ve.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors must not be retried.
func IsFatal(err error) bool {
	if ve, ok := asVitrine(err); ok {
		return ve.Severity == SeverityFatal
	}
	return false
}

// IsNotFound reports whether the error is a missing-entity error.
func IsNotFound(err error) bool {
	if ve, ok := asVitrine(err); ok {
		return ve.Code == ErrCodeNotFound
	}
	return false
}

// IsConflict reports whether the error is a duplicate-identifier error.
func IsConflict(err error) bool {
	if ve, ok := asVitrine(err); ok {
		return ve.Code == ErrCodeDuplicateID
	}
	return false
}

// IsValidation reports whether the error is in the validation category
// (bad input, conflicts, schema mismatches all classify as validation).
func IsValidation(err error) bool {
	if ve, ok := asVitrine(err); ok {
		return ve.Category == CategoryValidation
	}
	return false
}

// IsSchemaMismatch reports whether the error is a collection schema conflict.
func IsSchemaMismatch(err error) bool {
	if ve, ok := asVitrine(err); ok {
		return ve.Code == ErrCodeSchemaMismatch || ve.Code == ErrCodeDimensionMismatch
	}
	return false
}

// GetCode extracts the error code from a VitrineError in the wrap chain.
// Returns empty string if none is present.
func GetCode(err error) string {
	if ve, ok := asVitrine(err); ok {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category from a VitrineError in the wrap chain.
// Returns empty string if none is present.
func GetCategory(err error) Category {
	if ve, ok := asVitrine(err); ok {
		return ve.Category
	}
	return ""
}
