package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeRateLimited   ErrorType = "rate_limited"
	ErrorTypeProvider      ErrorType = "provider_error"
	ErrorTypeParseDegraded ErrorType = "parse_degraded"
	ErrorTypeNoProvider    ErrorType = "no_provider_available"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrRequestNotFound  = NewDomainError(ErrorTypeNotFound, "request not found", nil)
	ErrProviderNotFound = NewDomainError(ErrorTypeNotFound, "provider not found", nil)

	// Validation Errors
	ErrInvalidInput     = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidOperation = NewDomainError(ErrorTypeValidation, "invalid operation type", nil)
	ErrInvalidPriority  = NewDomainError(ErrorTypeValidation, "invalid priority", nil)
	ErrEmptyPayload     = NewDomainError(ErrorTypeValidation, "payload cannot be empty", nil)
	ErrTooManySubjects  = NewDomainError(ErrorTypeValidation, "bulk request exceeds subject limit", nil)

	// Authorization Errors
	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	// Permission Errors
	ErrForbidden               = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, "insufficient permissions", nil)

	// Rate Limit Errors
	ErrRateLimited = NewDomainError(ErrorTypeRateLimited, "rate limit exceeded for provider", nil)

	// Provider Errors
	ErrProviderUnavailable = NewDomainError(ErrorTypeProvider, "AI provider unavailable", nil)
	ErrProviderTimeout     = NewDomainError(ErrorTypeProvider, "AI provider timeout", nil)
	ErrProviderFailure     = NewDomainError(ErrorTypeProvider, "AI provider returned an error", nil)
	ErrNoProviderAvailable = NewDomainError(ErrorTypeNoProvider, "no provider available for operation", nil)

	// Parse Errors
	ErrUnparseableReply = NewDomainError(ErrorTypeParseDegraded, "provider reply could not be parsed", nil)

	// Internal Errors
	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
	ErrCacheFailed   = NewDomainError(ErrorTypeInternal, "cache operation failed", nil)
	ErrQueueClosed   = NewDomainError(ErrorTypeInternal, "request queue is closed", nil)
)

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeValidation
	}
	return false
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeUnauthorized
	}
	return false
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeForbidden
	}
	return false
}

// IsRateLimitedError checks if an error is a rate limit error
func IsRateLimitedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeRateLimited
	}
	return false
}

// IsProviderError checks if an error is an upstream provider error
func IsProviderError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeProvider
	}
	return false
}

// IsParseDegradedError checks if an error is a parse degradation error
func IsParseDegradedError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeParseDegraded
	}
	return false
}

// IsNoProviderError checks if an error means no provider could serve the request
func IsNoProviderError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeNoProvider
	}
	return false
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == ErrorTypeInternal
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// ErrorCode returns the stable machine-readable code for an error,
// e.g. RATE_LIMITED or NO_PROVIDER_AVAILABLE. Unknown errors map to INTERNAL.
func ErrorCode(err error) string {
	errType := GetErrorType(err)
	if errType == "" {
		return "INTERNAL"
	}
	return strings.ToUpper(string(errType))
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapProvider wraps an error as an upstream provider error
func WrapProvider(message string, err error) error {
	return NewDomainError(ErrorTypeProvider, message, err)
}
