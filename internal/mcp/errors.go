// Package mcp exposes the catalog to assistant clients over the Model
// Context Protocol. Tools cover search, item lookup, index submission
// and stats; items double as readable resources.
package mcp

import (
	"context"
	"errors"
	"fmt"

	verrors "github.com/vitrine-search/vitrine/internal/errors"
)

// Custom MCP error codes for the catalog surface.
const (
	// ErrCodeItemNotFound indicates the referenced item does not exist.
	ErrCodeItemNotFound = -32001

	// ErrCodeUnavailable indicates a collaborator is temporarily down
	// and the call is worth retrying.
	ErrCodeUnavailable = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Taxonomy errors keep
// their message (plus suggestion, when one exists) so the assistant can
// relay something actionable.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ve *verrors.VitrineError
	if errors.As(err, &ve) {
		return mapVitrineError(ve)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Resource '%s' not found.", uri)}
}

// mapVitrineError converts a taxonomy error to an MCPError.
func mapVitrineError(ve *verrors.VitrineError) *MCPError {
	message := ve.Message
	if ve.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ve.Message, ve.Suggestion)
	}

	switch {
	case ve.Code == verrors.ErrCodeNotFound:
		return &MCPError{Code: ErrCodeItemNotFound, Message: message}
	case ve.Category == verrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ve.Code == verrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case ve.Retryable:
		return &MCPError{Code: ErrCodeUnavailable, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
