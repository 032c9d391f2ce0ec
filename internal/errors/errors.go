package errors

import (
	"fmt"
)

// Error is the structured error type for Corpora.
// It provides rich context for error handling, logging, and user presentation.
type Error struct {
	// Code is the unique error code (e.g., "ERR_201_DIMENSION_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, VectorStore, Embedding, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Component is the subsystem that produced the error (e.g., "vector_store").
	Component string

	// Operation is the operation that failed (e.g., "add_vectors").
	Operation string

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
func (e *Error) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s/%s: %s", e.Code, e.Component, e.Operation, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with *Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// In records the component and operation the error occurred in.
// Returns the error for method chaining.
func (e *Error) In(component, operation string) *Error {
	e.Component = component
	e.Operation = operation
	return e
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message. Returns nil for nil input.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// VectorStoreError creates a vector store error.
func VectorStoreError(message string, cause error) *Error {
	return New(ErrCodeStorePersist, message, cause)
}

// MetadataError creates a metadata store error.
func MetadataError(message string, cause error) *Error {
	return New(ErrCodeMetadata, message, cause)
}

// EmbeddingError creates an embedding provider error.
func EmbeddingError(message string, cause error) *Error {
	return New(ErrCodeEmbedding, message, cause)
}

// LLMError creates an LLM provider error.
func LLMError(message string, cause error) *Error {
	return New(ErrCodeLLM, message, cause)
}

// ChunkingError creates a chunking error.
func ChunkingError(message string, cause error) *Error {
	return New(ErrCodeChunking, message, cause)
}

// IngestionError creates an ingestion pipeline error.
func IngestionError(message string, cause error) *Error {
	return New(ErrCodeIngestion, message, cause)
}

// RetrievalError creates a retrieval error.
func RetrievalError(message string, cause error) *Error {
	return New(ErrCodeRetrieval, message, cause)
}

// IntegrationError creates an external source error.
// Integration errors are typically retryable on the next poll.
func IntegrationError(message string, cause error) *Error {
	return New(ErrCodeIntegration, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an *Error with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*Error); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*Error); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an *Error.
// Returns empty string if not an *Error.
func GetCode(err error) string {
	if ce, ok := err.(*Error); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from an *Error.
// Returns empty string if not an *Error.
func GetCategory(err error) Category {
	if ce, ok := err.(*Error); ok {
		return ce.Category
	}
	return ""
}
