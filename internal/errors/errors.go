package errors

import (
	"errors"
	"fmt"
)

// RAGError is the structured error type for the retrieval engine.
// It carries enough context for logging, HTTP mapping, and CLI output.
type RAGError struct {
	// Code is the unique error code (e.g., "ERR_400_INVALID_ROUTING").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *RAGError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RAGError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against the sentinel values below.
func (e *RAGError) Is(target error) bool {
	if t, ok := target.(*RAGError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RAGError) WithDetail(key, value string) *RAGError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion.
func (e *RAGError) WithSuggestion(suggestion string) *RAGError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RAGError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RAGError {
	return &RAGError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RAGError from an existing error.
func Wrap(code string, err error) *RAGError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrInvalidRouting    = &RAGError{Code: ErrCodeInvalidRouting}
	ErrProvisioning      = &RAGError{Code: ErrCodeProvisioningFailed}
	ErrEmbeddingFailure  = &RAGError{Code: ErrCodeEmbeddingFailed}
	ErrPartialIndex      = &RAGError{Code: ErrCodePartialIndex}
	ErrSourceUnavailable = &RAGError{Code: ErrCodeSourceUnavailable}
	ErrUnsupportedFormat = &RAGError{Code: ErrCodeUnsupportedFormat}
)

// InvalidRouting rejects a request whose partition cannot be resolved.
func InvalidRouting(message string) *RAGError {
	return New(ErrCodeInvalidRouting, message, nil).
		WithSuggestion("use a valid space, or space=projects with project_id and a known subdb")
}

// ProvisioningError reports a partition that could not be created.
func ProvisioningError(partition string, cause error) *RAGError {
	return New(ErrCodeProvisioningFailed, fmt.Sprintf("partition %s not provisioned", partition), cause).
		WithDetail("partition", partition)
}

// EmbeddingFailure reports a failed embedding batch for one document.
func EmbeddingFailure(documentID string, cause error) *RAGError {
	return New(ErrCodeEmbeddingFailed, "embedding failed", cause).
		WithDetail("document_id", documentID)
}

// PartialIndex reports a document whose vector points were written but
// whose keyword records were not.
func PartialIndex(documentID, partition string, cause error) *RAGError {
	return New(ErrCodePartialIndex, "keyword write failed after vector write", cause).
		WithDetail("document_id", documentID).
		WithDetail("partition", partition).
		WithSuggestion("run `jarvis-rag reconcile` to rebuild the missing keyword records")
}

// SourceUnavailable reports one retrieval source that produced no results.
func SourceUnavailable(source string, cause error) *RAGError {
	return New(ErrCodeSourceUnavailable, fmt.Sprintf("source %s unavailable", source), cause).
		WithDetail("source", source)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RAGError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RAGError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are typically retryable.
func NetworkError(message string, cause error) *RAGError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RAGError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error (or anything it wraps) is retryable.
func IsRetryable(err error) bool {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsValidation reports whether err is a request-validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// GetCode extracts the error code from a RAGError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RAGError anywhere in the chain.
func GetCategory(err error) Category {
	var re *RAGError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}
