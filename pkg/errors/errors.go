// Package errors provides the structured error type shared by molcache components.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode identifies the kind of failure.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE_FAILED"

	// Tier and lookup path
	ErrCodeTierUnavailable ErrorCode = "TIER_UNAVAILABLE"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"

	// Origin
	ErrCodeOriginFailed ErrorCode = "ORIGIN_FAILED"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeCircuitOpen  ErrorCode = "CIRCUIT_OPEN"

	// Operation
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Control loop status codes. These describe a steady state and are
	// reported in results, never returned as errors.
	ErrCodeBudgetExceeded      ErrorCode = "BUDGET_EXCEEDED"
	ErrCodeInsufficientSamples ErrorCode = "INSUFFICIENT_SAMPLES"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory groups codes for logging and metrics.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryTier          ErrorCategory = "tier"
	CategoryOrigin        ErrorCategory = "origin"
	CategoryOperation     ErrorCategory = "operation"
	CategoryControl       ErrorCategory = "control"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrInvalidConfig   = &CacheError{Code: ErrCodeInvalidConfig}
	ErrTierUnavailable = &CacheError{Code: ErrCodeTierUnavailable}
	ErrCacheMiss       = &CacheError{Code: ErrCodeCacheMiss}
	ErrNotFound        = &CacheError{Code: ErrCodeNotFound}
	ErrCircuitOpen     = &CacheError{Code: ErrCodeCircuitOpen}
	ErrOriginFailed    = &CacheError{Code: ErrCodeOriginFailed}
	ErrTimeout         = &CacheError{Code: ErrCodeOperationTimeout}
)

// CacheError is a structured error with enough context to log and to map
// onto an HTTP status.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Key       string `json:"key,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key=%s)", e.Key)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *CacheError) Is(target error) bool {
	if t, ok := target.(*CacheError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("Key=%s", e.Key))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates an error with defaults derived from its code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is NewError with a format string.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error that carries cause.
func Wrap(code ErrorCode, message string, cause error) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory maps a code to its category.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeConfigSave:
		return CategoryConfiguration
	case ErrCodeTierUnavailable, ErrCodeCacheMiss:
		return CategoryTier
	case ErrCodeOriginFailed, ErrCodeNotFound, ErrCodeCircuitOpen:
		return CategoryOrigin
	case ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodeRetryExhausted:
		return CategoryOperation
	case ErrCodeBudgetExceeded, ErrCodeInsufficientSamples:
		return CategoryControl
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a fresh error with code is retryable.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeOriginFailed, ErrCodeOperationTimeout, ErrCodeTierUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the status an API should answer with for err.
func HTTPStatus(err error) int {
	ce, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeCacheMiss:
		// A miss is only reported as 404 when origin said the asset does not exist.
		if inner, ok := As(ce.Cause); ok && inner.Code == ErrCodeNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case ErrCodeOriginFailed, ErrCodeTierUnavailable:
		return http.StatusBadGateway
	case ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrCodeOperationTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeOperationCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// As returns the outermost *CacheError in err's chain.
func As(err error) (*CacheError, bool) {
	for err != nil {
		if ce, ok := err.(*CacheError); ok {
			return ce, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	ce, ok := As(err)
	return ok && ce.Retryable
}

// WithDetail adds a detail value.
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithKey sets the asset key.
func (e *CacheError) WithKey(key string) *CacheError {
	e.Key = key
	return e
}

// WithCause sets the underlying cause.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable default.
func (e *CacheError) WithRetryable(retryable bool) *CacheError {
	e.Retryable = retryable
	return e
}
