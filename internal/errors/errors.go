// Package errors provides structured error types for the cybervision-siem forwarder.
//
// Errors carry a machine-readable code, a retryable flag and free-form context
// so that the pipeline can log them as structured fields. Sentinel values are
// exposed for errors.Is() checks.
//
// Error code ranges:
// - 1xxx: Configuration errors (fatal at startup)
// - 2xxx: Source/ingestion errors (absorbed by the pipeline)
// - 3xxx: Enrichment errors (degraded to a fallback annotation)
// - 4xxx: Storage errors (local buffer, ingestion store)
// - 5xxx: Delivery errors (surfaced per alert)
// - 9xxx: General errors
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error identifier.
type ErrorCode string

// Configuration error codes (1xxx)
const (
	ErrCodeConfigInvalid    ErrorCode = "SIEM_1001"
	ErrCodeConfigMissing    ErrorCode = "SIEM_1002"
	ErrCodeConfigValidation ErrorCode = "SIEM_1003"
	ErrCodeConfigMissingKey ErrorCode = "SIEM_1004"
)

// Source error codes (2xxx)
const (
	ErrCodeSourceNotFound         ErrorCode = "SIEM_2001"
	ErrCodeSourcePermissionDenied ErrorCode = "SIEM_2002"
	ErrCodeSourceReadFailed       ErrorCode = "SIEM_2003"
	ErrCodeSourceMalformedLine    ErrorCode = "SIEM_2004"
)

// Enrichment error codes (3xxx)
const (
	ErrCodeEnrichFailed        ErrorCode = "SIEM_3001"
	ErrCodeEnrichTimeout       ErrorCode = "SIEM_3002"
	ErrCodeEnrichEmptyResponse ErrorCode = "SIEM_3003"
)

// Storage error codes (4xxx)
const (
	ErrCodeStorageReadFailed  ErrorCode = "SIEM_4001"
	ErrCodeStorageWriteFailed ErrorCode = "SIEM_4002"
)

// Delivery error codes (5xxx)
const (
	ErrCodeForwardConnection ErrorCode = "SIEM_5001"
	ErrCodeForwardTimeout    ErrorCode = "SIEM_5002"
	ErrCodeForwardRejected   ErrorCode = "SIEM_5003"
	ErrCodeForwardEncoding   ErrorCode = "SIEM_5004"
)

// General error codes (9xxx)
const (
	ErrCodeUnknown ErrorCode = "SIEM_9999"
)

// Sentinel errors for type checking with errors.Is()
var (
	// Configuration errors
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrConfigMissing    = errors.New("configuration not found")
	ErrConfigValidation = errors.New("configuration validation failed")
	ErrConfigMissingKey = errors.New("required configuration key missing")

	// Source errors
	ErrSourceNotFound         = errors.New("alert log not found")
	ErrSourcePermissionDenied = errors.New("permission denied")
	ErrSourceReadFailed       = errors.New("alert log read failed")
	ErrSourceMalformedLine    = errors.New("malformed alert line")

	// Enrichment errors
	ErrEnrichFailed        = errors.New("enrichment failed")
	ErrEnrichTimeout       = errors.New("enrichment timeout")
	ErrEnrichEmptyResponse = errors.New("enrichment returned no text")

	// Storage errors
	ErrStorageReadFailed  = errors.New("storage read failed")
	ErrStorageWriteFailed = errors.New("storage write failed")

	// Delivery errors
	ErrForwardConnection = errors.New("ingestion endpoint unreachable")
	ErrForwardTimeout    = errors.New("forward timeout")
	ErrForwardRejected   = errors.New("ingestion endpoint rejected payload")
	ErrForwardEncoding   = errors.New("payload encoding failed")
)

// SentinelError is the base error type with structured information.
type SentinelError struct {
	Code        ErrorCode
	Message     string
	Context     map[string]interface{}
	IsRetryable bool
	Cause       error
}

// Error implements the error interface.
func (e *SentinelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SentinelError) Unwrap() error {
	return e.Cause
}

// Is checks if the target error matches this error's cause.
func (e *SentinelError) Is(target error) bool {
	if e.Cause != nil {
		return errors.Is(e.Cause, target)
	}
	return false
}

// WithContext adds context information to the error.
func (e *SentinelError) WithContext(key string, value interface{}) *SentinelError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewSentinelError creates a new SentinelError.
func NewSentinelError(code ErrorCode, message string, cause error) *SentinelError {
	return &SentinelError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// chain joins a sentinel with an underlying error so both match errors.Is.
func chain(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Configuration Error constructors

// NewConfigInvalidError creates a configuration invalid error.
func NewConfigInvalidError(message string, cause error) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeConfigInvalid,
		Message:     message,
		Cause:       chain(ErrConfigInvalid, cause),
		IsRetryable: false,
		Context:     make(map[string]interface{}),
	}
}

// NewConfigMissingError creates a configuration missing error.
func NewConfigMissingError(path string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeConfigMissing,
		Message:     fmt.Sprintf("configuration file not found: %s", path),
		Cause:       ErrConfigMissing,
		IsRetryable: false,
		Context: map[string]interface{}{
			"path": path,
		},
	}
}

// NewConfigValidationError creates a configuration validation error.
func NewConfigValidationError(field string, value interface{}, reason string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeConfigValidation,
		Message:     fmt.Sprintf("validation failed for '%s': %s", field, reason),
		Cause:       ErrConfigValidation,
		IsRetryable: false,
		Context: map[string]interface{}{
			"field":  field,
			"value":  fmt.Sprintf("%v", value),
			"reason": reason,
		},
	}
}

// NewConfigMissingKeyError reports required keys absent from the config file.
func NewConfigMissingKeyError(keys []string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeConfigMissingKey,
		Message:     fmt.Sprintf("missing required configuration keys: %v", keys),
		Cause:       ErrConfigMissingKey,
		IsRetryable: false,
		Context: map[string]interface{}{
			"keys": keys,
		},
	}
}

// Source Error constructors

// NewSourceNotFoundError creates an alert log not found error.
func NewSourceNotFoundError(path string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeSourceNotFound,
		Message:     fmt.Sprintf("alert log not found: %s", path),
		Cause:       ErrSourceNotFound,
		IsRetryable: true,
		Context: map[string]interface{}{
			"path": path,
		},
	}
}

// NewSourcePermissionDeniedError creates a permission denied error.
func NewSourcePermissionDeniedError(path string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeSourcePermissionDenied,
		Message:     fmt.Sprintf("permission denied reading: %s", path),
		Cause:       ErrSourcePermissionDenied,
		IsRetryable: true,
		Context: map[string]interface{}{
			"path": path,
		},
	}
}

// NewSourceReadError wraps an I/O failure while reading the alert log.
func NewSourceReadError(path string, offset int64, cause error) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeSourceReadFailed,
		Message:     fmt.Sprintf("failed to read %s at offset %d", path, offset),
		Cause:       chain(ErrSourceReadFailed, cause),
		IsRetryable: true,
		Context: map[string]interface{}{
			"path":   path,
			"offset": offset,
		},
	}
}

// NewMalformedLineError creates a parse error for a single alert line.
func NewMalformedLineError(line string, reason string) *SentinelError {
	// Truncate long lines
	truncated := line
	if len(line) > 200 {
		truncated = line[:200] + "..."
	}
	return &SentinelError{
		Code:        ErrCodeSourceMalformedLine,
		Message:     fmt.Sprintf("malformed alert line: %s", reason),
		Cause:       ErrSourceMalformedLine,
		IsRetryable: false,
		Context: map[string]interface{}{
			"line":   truncated,
			"reason": reason,
		},
	}
}

// Enrichment Error constructors

// NewEnrichError creates an enrichment failure error.
func NewEnrichError(model string, cause error) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeEnrichFailed,
		Message:     fmt.Sprintf("analysis with '%s' failed", model),
		Cause:       chain(ErrEnrichFailed, cause),
		IsRetryable: true,
		Context: map[string]interface{}{
			"model": model,
		},
	}
}

// NewEnrichTimeoutError creates an enrichment timeout error.
func NewEnrichTimeoutError(model string, timeoutSeconds float64) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeEnrichTimeout,
		Message:     fmt.Sprintf("analysis with '%s' timed out after %.1fs", model, timeoutSeconds),
		Cause:       ErrEnrichTimeout,
		IsRetryable: true,
		Context: map[string]interface{}{
			"model":           model,
			"timeout_seconds": timeoutSeconds,
		},
	}
}

// NewEnrichEmptyResponseError is returned when the model produced no text.
func NewEnrichEmptyResponseError(model string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeEnrichEmptyResponse,
		Message:     fmt.Sprintf("model '%s' returned an empty response", model),
		Cause:       ErrEnrichEmptyResponse,
		IsRetryable: true,
		Context: map[string]interface{}{
			"model": model,
		},
	}
}

// Storage Error constructors

// NewStorageReadError creates a storage read error.
func NewStorageReadError(path string, reason string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeStorageReadFailed,
		Message:     fmt.Sprintf("failed to read from storage: %s", reason),
		Cause:       ErrStorageReadFailed,
		IsRetryable: true,
		Context: map[string]interface{}{
			"path":   path,
			"reason": reason,
		},
	}
}

// NewStorageWriteError creates a storage write error.
func NewStorageWriteError(path string, reason string) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeStorageWriteFailed,
		Message:     fmt.Sprintf("failed to write to storage: %s", reason),
		Cause:       ErrStorageWriteFailed,
		IsRetryable: true,
		Context: map[string]interface{}{
			"path":   path,
			"reason": reason,
		},
	}
}

// Delivery Error constructors

// NewForwardConnectionError creates a transport failure error.
func NewForwardConnectionError(url string, cause error) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeForwardConnection,
		Message:     fmt.Sprintf("failed to reach %s", url),
		Cause:       chain(ErrForwardConnection, cause),
		IsRetryable: true,
		Context: map[string]interface{}{
			"url": url,
		},
	}
}

// NewForwardTimeoutError creates a delivery timeout error.
func NewForwardTimeoutError(url string, timeoutSeconds float64) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeForwardTimeout,
		Message:     fmt.Sprintf("POST %s timed out after %.1fs", url, timeoutSeconds),
		Cause:       ErrForwardTimeout,
		IsRetryable: true,
		Context: map[string]interface{}{
			"url":             url,
			"timeout_seconds": timeoutSeconds,
		},
	}
}

// NewForwardRejectedError creates an error for a non-2xx ingestion response.
func NewForwardRejectedError(url string, statusCode int, body string) *SentinelError {
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return &SentinelError{
		Code:        ErrCodeForwardRejected,
		Message:     fmt.Sprintf("POST %s returned status %d", url, statusCode),
		Cause:       ErrForwardRejected,
		IsRetryable: statusCode >= 500 || statusCode == 429,
		Context: map[string]interface{}{
			"url":         url,
			"status_code": statusCode,
			"body":        body,
		},
	}
}

// NewForwardEncodingError creates a payload serialization error.
func NewForwardEncodingError(cause error) *SentinelError {
	return &SentinelError{
		Code:        ErrCodeForwardEncoding,
		Message:     "failed to encode forward payload",
		Cause:       chain(ErrForwardEncoding, cause),
		IsRetryable: false,
		Context:     make(map[string]interface{}),
	}
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var sentinelErr *SentinelError
	if errors.As(err, &sentinelErr) {
		return sentinelErr.IsRetryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var sentinelErr *SentinelError
	if errors.As(err, &sentinelErr) {
		return sentinelErr.Code
	}
	return ErrCodeUnknown
}
