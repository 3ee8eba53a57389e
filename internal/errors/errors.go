package errors

import (
	"errors"
	"fmt"
)

// RelError is the structured error type for relindex.
// It carries a stable code so callers can branch on failure kinds
// (unknown index, transport failure, unsupported index) with errors.Is.
type RelError struct {
	// Code is the unique error code (e.g., "ERR_303_UNKNOWN_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Transport, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried by the caller.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RelError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RelError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so a sentinel such as ErrUnknownIndex matches any
// RelError carrying the same code regardless of message or cause.
func (e *RelError) Is(target error) bool {
	if t, ok := target.(*RelError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RelError) WithDetail(key, value string) *RelError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RelError) WithSuggestion(suggestion string) *RelError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RelError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RelError {
	return &RelError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RelError from an existing error.
// The error's message becomes the RelError message.
func Wrap(code string, err error) *RelError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrUnknownIndex      = New(ErrCodeUnknownIndex, "unknown index", nil)
	ErrUnsupportedIndex  = New(ErrCodeUnsupportedIndex, "unsupported index", nil)
	ErrNoIndexNames      = New(ErrCodeNoIndexNames, "no index names given", nil)
	ErrTransport         = New(ErrCodeTransportFailed, "index transport failed", nil)
	ErrSearchUnavailable = New(ErrCodeSearchUnavailable, "search engine unavailable", nil)
	ErrUnknownRule       = New(ErrCodeUnknownRule, "unknown quality rule", nil)
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RelError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// TransportError creates an index transport error. Transport errors are
// retryable by caller policy; the transport itself never retries.
func TransportError(message string, cause error) *RelError {
	return New(ErrCodeTransportFailed, message, cause)
}

// UnknownIndexError reports that the index service has no index by that name.
func UnknownIndexError(index string) *RelError {
	return New(ErrCodeUnknownIndex, fmt.Sprintf("unknown index %q", index), nil).
		WithDetail("index", index)
}

// UnsupportedIndexError reports a caller-supplied index name that is not configured.
func UnsupportedIndexError(index string) *RelError {
	return New(ErrCodeUnsupportedIndex, fmt.Sprintf("unsupported index: %s", index), nil).
		WithDetail("index", index).
		WithSuggestion("use one of the index names configured under 'indexes'")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *RelError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RelError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if any RelError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	var re *RelError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var re *RelError
	if errors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a RelError.
// Returns empty string if not a RelError.
func GetCode(err error) string {
	var re *RelError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a RelError.
func GetCategory(err error) Category {
	var re *RelError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}
