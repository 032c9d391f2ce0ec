// Package errors provides structured error handling for Corpora.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (vector index, metadata, disk)
//   - 3XX: Provider and network errors (embedding, LLM, external source)
//   - 4XX: Validation and input errors
//   - 5XX: Internal and orchestration errors
package errors

// Category defines error categories for classification.
// Categories mirror the component taxonomy: each subsystem surfaces
// failures under its own category so orchestrators can route policy.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryVectorStore indicates ANN index errors.
	CategoryVectorStore Category = "VECTOR_STORE"
	// CategoryMetadata indicates metadata store errors.
	CategoryMetadata Category = "METADATA"
	// CategoryEmbedding indicates embedding provider errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryLLM indicates LLM provider errors.
	CategoryLLM Category = "LLM"
	// CategoryChunking indicates text chunking errors.
	CategoryChunking Category = "CHUNKING"
	// CategoryIngestion indicates ingestion pipeline errors.
	CategoryIngestion Category = "INGESTION"
	// CategoryRetrieval indicates query/retrieval errors.
	CategoryRetrieval Category = "RETRIEVAL"
	// CategoryIntegration indicates external ticket source errors.
	CategoryIntegration Category = "INTEGRATION"
	// CategoryAuth indicates authentication errors against external services.
	CategoryAuth Category = "AUTH"
	// CategoryAPI indicates HTTP-level failures talking to providers.
	CategoryAPI Category = "API"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryResource indicates resource exhaustion (memory, disk).
	CategoryResource Category = "RESOURCE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Configuration errors (1XX)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"
	ErrCodeConfigUnknown  = "ERR_103_CONFIG_UNKNOWN_KEY"

	// Store errors (2XX)
	ErrCodeDimensionMismatch = "ERR_201_DIMENSION_MISMATCH"
	ErrCodeStoreFull         = "ERR_202_STORE_FULL"
	ErrCodeStorePersist      = "ERR_203_STORE_PERSIST"
	ErrCodeStoreReadOnly     = "ERR_204_STORE_READ_ONLY"
	ErrCodeMetadata          = "ERR_205_METADATA"
	ErrCodeResourceExhausted = "ERR_206_RESOURCE_EXHAUSTED"
	ErrCodeStoreLocked       = "ERR_207_STORE_LOCKED"

	// Provider and network errors (3XX)
	ErrCodeEmbedding        = "ERR_301_EMBEDDING"
	ErrCodeEmbeddingLimited = "ERR_302_EMBEDDING_RATE_LIMITED"
	ErrCodeLLM              = "ERR_303_LLM"
	ErrCodeLLMTimeout       = "ERR_304_LLM_TIMEOUT"
	ErrCodeIntegration      = "ERR_305_INTEGRATION"
	ErrCodeAuthentication   = "ERR_306_AUTHENTICATION"
	ErrCodeAPI              = "ERR_307_API"

	// Validation errors (4XX)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeChunking     = "ERR_402_CHUNKING"
	ErrCodeEmptyQuery   = "ERR_403_EMPTY_QUERY"

	// Internal errors (5XX)
	ErrCodeInternal  = "ERR_501_INTERNAL"
	ErrCodeIngestion = "ERR_502_INGESTION"
	ErrCodeRetrieval = "ERR_503_RETRIEVAL"
)

// codeCategories maps each code to its category. Codes absent from the map
// fall back to the century-based default in categoryFromCode.
var codeCategories = map[string]Category{
	ErrCodeConfigInvalid:  CategoryConfig,
	ErrCodeConfigNotFound: CategoryConfig,
	ErrCodeConfigUnknown:  CategoryConfig,

	ErrCodeDimensionMismatch: CategoryVectorStore,
	ErrCodeStoreFull:         CategoryVectorStore,
	ErrCodeStorePersist:      CategoryVectorStore,
	ErrCodeStoreReadOnly:     CategoryVectorStore,
	ErrCodeStoreLocked:       CategoryVectorStore,
	ErrCodeMetadata:          CategoryMetadata,
	ErrCodeResourceExhausted: CategoryResource,

	ErrCodeEmbedding:        CategoryEmbedding,
	ErrCodeEmbeddingLimited: CategoryEmbedding,
	ErrCodeLLM:              CategoryLLM,
	ErrCodeLLMTimeout:       CategoryLLM,
	ErrCodeIntegration:      CategoryIntegration,
	ErrCodeAuthentication:   CategoryAuth,
	ErrCodeAPI:              CategoryAPI,

	ErrCodeInvalidInput: CategoryValidation,
	ErrCodeChunking:     CategoryChunking,
	ErrCodeEmptyQuery:   CategoryValidation,

	ErrCodeInternal:  CategoryInternal,
	ErrCodeIngestion: CategoryIngestion,
	ErrCodeRetrieval: CategoryRetrieval,
}

// retryableCodes lists codes where the operation may succeed on retry.
var retryableCodes = map[string]bool{
	ErrCodeEmbeddingLimited: true,
	ErrCodeLLMTimeout:       true,
	ErrCodeStorePersist:     true,
	ErrCodeIntegration:      true,
	ErrCodeAPI:              true,
}

// fatalCodes lists codes that must abort the current operation.
var fatalCodes = map[string]bool{
	ErrCodeDimensionMismatch: true,
	ErrCodeStoreFull:         true,
	ErrCodeStoreLocked:       true,
	ErrCodeResourceExhausted: true,
}

// categoryFromCode derives the category for an error code.
func categoryFromCode(code string) Category {
	if cat, ok := codeCategories[code]; ok {
		return cat
	}
	if len(code) >= 7 {
		switch code[4] {
		case '1':
			return CategoryConfig
		case '2':
			return CategoryVectorStore
		case '3':
			return CategoryAPI
		case '4':
			return CategoryValidation
		}
	}
	return CategoryInternal
}

// severityFromCode derives the severity for an error code.
func severityFromCode(code string) Severity {
	if fatalCodes[code] {
		return SeverityFatal
	}
	return SeverityError
}

// isRetryableCode reports whether a code marks a retryable failure.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
