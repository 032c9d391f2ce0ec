// Package mcp implements the Model Context Protocol service surface for
// Corpora: ingest, query, chat, ticket sync and status tools over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	corperrors "github.com/corpora-ai/corpora/internal/errors"
)

// JSON-RPC error codes surfaced to MCP clients.
const (
	ErrCodeTimeout        = -32003
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-parameters error.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// MapError converts internal errors to MCP errors. Structured errors keep
// their message and suggestion; everything else collapses to a generic
// internal error so provider details never leak to clients.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var ce *corperrors.Error
	if errors.As(err, &ce) {
		return mapStructuredError(ce)
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

func mapStructuredError(ce *corperrors.Error) *MCPError {
	message := ce.Message
	if ce.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ce.Message, ce.Suggestion)
	}

	switch ce.Category {
	case corperrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case corperrors.CategoryIntegration, corperrors.CategoryAuth, corperrors.CategoryAPI:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
