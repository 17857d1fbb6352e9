package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FusionError is the structured error type for amanrag.
type FusionError struct {
	// Code is the unique error code (e.g., "ERR_301_SOURCE_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Source names the retrieval source or collaborator that failed, if any.
	Source string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the caller may retry the whole request.
	Retryable bool
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrInvalidInput        = &FusionError{Code: ErrCodeInvalidInput}
	ErrInvalidQuery        = &FusionError{Code: ErrCodeInvalidQuery}
	ErrSourceTimeout       = &FusionError{Code: ErrCodeSourceTimeout}
	ErrSourceUnavailable   = &FusionError{Code: ErrCodeSourceUnavailable}
	ErrAllSourcesFailed    = &FusionError{Code: ErrCodeAllSourcesFailed}
	ErrRerankerUnavailable = &FusionError{Code: ErrCodeRerankerUnavailable}
	ErrCircuitOpen         = &FusionError{Code: ErrCodeCircuitOpen, Message: "circuit breaker is open"}
	ErrSnapshotNotFound    = &FusionError{Code: ErrCodeSnapshotNotFound}
	ErrSnapshotCorrupt     = &FusionError{Code: ErrCodeSnapshotCorrupt}
)

// Error implements the error interface.
func (e *FusionError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Source, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FusionError) Unwrap() error {
	return e.Cause
}

// Is matches another FusionError by code.
func (e *FusionError) Is(target error) bool {
	if t, ok := target.(*FusionError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FusionError) WithDetail(key, value string) *FusionError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSource records which retrieval source produced the error.
func (e *FusionError) WithSource(source string) *FusionError {
	e.Source = source
	return e
}

// New creates a new FusionError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FusionError {
	return &FusionError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FusionError from an existing error.
func Wrap(code string, err error) *FusionError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates a validation error raised before fan-out.
func InvalidInput(format string, args ...any) *FusionError {
	return New(ErrCodeInvalidInput, fmt.Sprintf(format, args...), nil)
}

// InvalidQuery creates an adapter error for a query a source cannot execute.
func InvalidQuery(source string, cause error) *FusionError {
	return newSourceError(ErrCodeInvalidQuery, source, "invalid query", cause)
}

// SourceTimeout creates an adapter timeout error.
func SourceTimeout(source string, cause error) *FusionError {
	return newSourceError(ErrCodeSourceTimeout, source, "timed out", cause)
}

// SourceUnavailable creates an adapter backend-unavailable error.
func SourceUnavailable(source string, cause error) *FusionError {
	return newSourceError(ErrCodeSourceUnavailable, source, "backend unavailable", cause)
}

// RerankerUnavailable creates the recoverable reranker error.
func RerankerUnavailable(cause error) *FusionError {
	return newSourceError(ErrCodeRerankerUnavailable, "reranker", "reranker unavailable", cause)
}

// AllSourcesFailed creates the fatal error returned when no source produced evidence.
// The per-source causes are joined.
func AllSourcesFailed(causes ...error) *FusionError {
	return New(ErrCodeAllSourcesFailed, "all retrieval sources failed", errors.Join(causes...))
}

func newSourceError(code, source, message string, cause error) *FusionError {
	if cause != nil {
		message = message + ": " + cause.Error()
	}
	e := New(code, message, cause)
	e.Source = source
	return e
}

// Classify maps a raw adapter error to the source taxonomy:
// Timeout, BackendUnavailable or InvalidQuery. Errors that are
// already classified keep their code and gain the source name.
func Classify(source string, err error) *FusionError {
	if err == nil {
		return nil
	}

	var fe *FusionError
	if errors.As(err, &fe) {
		switch fe.Code {
		case ErrCodeSourceTimeout, ErrCodeSourceUnavailable, ErrCodeInvalidQuery:
			classified := *fe
			if classified.Source == "" {
				classified.Source = source
			}
			return &classified
		case ErrCodeCircuitOpen:
			return SourceUnavailable(source, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return SourceTimeout(source, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return SourceTimeout(source, err)
	}
	return SourceUnavailable(source, err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var fe *FusionError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Only InvalidInput and AllSourcesFailed are fatal for a fusion request.
func IsFatal(err error) bool {
	var fe *FusionError
	if errors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a FusionError anywhere in the chain.
func GetCode(err error) string {
	var fe *FusionError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category from a FusionError anywhere in the chain.
func GetCategory(err error) Category {
	var fe *FusionError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return ""
}
