package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents a structured application error with context
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	HTTPCode int    `json:"-"`
	Cause    error  `json:"-"`

	// RetryAfter is set for retryable abuse-control errors so callers can
	// back off deterministically instead of hot-looping.
	RetryAfter time.Duration `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeConfigError      = "CONFIG_ERROR"
	CodeInvalidRequest   = "INVALID_REQUEST"

	// OAuth 2.0 wire codes (RFC 6749); these cross the protocol boundary
	// verbatim, so they stay lowercase.
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeInvalidScope            = "invalid_scope"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeAccessDenied            = "access_denied"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeInvalidRedirect         = "invalid_redirect"

	// Token verification codes
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeInvalidAudience  = "INVALID_AUDIENCE"

	// Abuse control codes
	CodeRateLimited = "RATE_LIMITED"
	CodeLockedOut   = "LOCKED_OUT"

	// Counter store codes
	CodeCacheError       = "CACHE_ERROR"
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"

	// Webhook delivery codes
	CodeDeliveryFailed = "DELIVERY_FAILED"
)

// Error constructors
func ValidationError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeValidationFailed,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func NotFoundError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeNotFound,
		Message:  message,
		HTTPCode: http.StatusNotFound,
		Cause:    cause,
	}
}

func UnauthorizedError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeUnauthorized,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InternalError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInternalError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeDatabaseError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func ConfigError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeConfigError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func InvalidRequestError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidRequest,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

// OAuth 2.0 specific error constructors
func InvalidClientError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidClient,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InvalidGrantError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidGrant,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func UnsupportedGrantTypeError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeUnsupportedGrantType,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func InvalidScopeError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidScope,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func UnauthorizedClientError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeUnauthorizedClient,
		Message:  message,
		HTTPCode: http.StatusForbidden,
		Cause:    cause,
	}
}

func InvalidRedirectError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidRedirect,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

// Token verification constructors
func TokenExpiredError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeTokenExpired,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InvalidSignatureError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidSignature,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func InvalidAudienceError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInvalidAudience,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

// Abuse control constructors
func RateLimitedError(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       CodeRateLimited,
		Message:    message,
		HTTPCode:   http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func LockedOutError(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       CodeLockedOut,
		Message:    message,
		HTTPCode:   http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// Counter store constructors
func CacheError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeCacheError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func CacheUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeCacheUnavailable,
		Message:  message,
		HTTPCode: http.StatusServiceUnavailable,
		Cause:    cause,
	}
}

// DeliveryFailedError records a webhook delivery failure. It never surfaces
// on the request that triggered the event; only the delivery log records it.
func DeliveryFailedError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeDeliveryFailed,
		Message:  message,
		HTTPCode: http.StatusBadGateway,
		Cause:    cause,
	}
}

// IsType checks whether err is an AppError with the given code
func IsType(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// RetryAfter extracts the retry hint from an abuse-control error, if any
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		return appErr.RetryAfter, true
	}
	return 0, false
}
