package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	apperrors "github.com/signet-id/signet/internal/errors"
)

type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OAuthError is the RFC 6749 error body returned by the protocol endpoints
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RetryAfter       int64  `json:"retry_after,omitempty"`
}

func Redirect(w http.ResponseWriter, status int, url string) {
	w.Header().Set("Location", url)
	w.WriteHeader(status)
}

func JSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// ErrorResponse handles structured error responses
func ErrorResponse(w http.ResponseWriter, err error, logger *slog.Logger) {
	appErr := normalize(err, logger)
	setRetryAfter(w, appErr)

	JSONResponse(w, appErr.HTTPCode, APIResponse{
		Code:    appErr.HTTPCode,
		Status:  "error",
		Message: appErr.Message,
		Data: map[string]any{
			"error_code": appErr.Code,
		},
	})
}

// OAuthErrorResponse renders the error in wire format for the OAuth
// endpoints. Internal errors collapse to server_error without detail.
func OAuthErrorResponse(w http.ResponseWriter, err error, logger *slog.Logger) {
	appErr := normalize(err, logger)
	setRetryAfter(w, appErr)

	body := OAuthError{
		Error:            wireCode(appErr),
		ErrorDescription: appErr.Message,
	}
	if appErr.RetryAfter > 0 {
		body.RetryAfter = retryAfterSeconds(appErr)
	}
	if appErr.Code == apperrors.CodeInternalError || appErr.Code == apperrors.CodeDatabaseError {
		body.ErrorDescription = ""
	}

	JSONResponse(w, appErr.HTTPCode, body)
}

// SuccessResponse handles successful API responses
func SuccessResponse(w http.ResponseWriter, data any) {
	JSONResponse(w, http.StatusOK, APIResponse{
		Code:   http.StatusOK,
		Status: "success",
		Data:   data,
	})
}

// ValidationErrorResponse handles validation error responses
func ValidationErrorResponse(w http.ResponseWriter, message string, details map[string]string, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("Validation error",
			slog.String("message", message),
			slog.Any("details", details))
	}

	JSONResponse(w, http.StatusBadRequest, APIResponse{
		Code:    http.StatusBadRequest,
		Status:  "error",
		Message: message,
		Data: map[string]any{
			"error_code": apperrors.CodeValidationFailed,
			"details":    details,
		},
	})
}

func normalize(err error, logger *slog.Logger) *apperrors.AppError {
	var appErr *apperrors.AppError

	if apperrors.IsType(err, apperrors.CodeInternalError) || !errors.As(err, &appErr) {
		// Log internal errors for debugging but don't expose details
		if logger != nil {
			logger.Error("Internal server error", slog.String("error", err.Error()))
		}
		return apperrors.InternalError("An internal error occurred", err)
	}

	if logger != nil {
		logger.Warn("Application error occurred",
			slog.String("code", appErr.Code),
			slog.String("message", appErr.Message),
			slog.String("cause", appErr.Error()))
	}
	return appErr
}

// setRetryAfter adds the Retry-After header for throttling errors
func setRetryAfter(w http.ResponseWriter, appErr *apperrors.AppError) {
	if appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(appErr), 10))
	}
}

func retryAfterSeconds(appErr *apperrors.AppError) int64 {
	return int64(math.Ceil(appErr.RetryAfter.Seconds()))
}

// wireCode maps internal codes onto the RFC 6749 vocabulary. Lowercase
// codes already are wire codes and pass through.
func wireCode(appErr *apperrors.AppError) string {
	switch appErr.Code {
	case apperrors.CodeInvalidClient,
		apperrors.CodeInvalidGrant,
		apperrors.CodeUnsupportedGrantType,
		apperrors.CodeInvalidScope,
		apperrors.CodeUnauthorizedClient,
		apperrors.CodeAccessDenied,
		apperrors.CodeUnsupportedResponseType:
		return appErr.Code
	case apperrors.CodeRateLimited, apperrors.CodeLockedOut:
		return "slow_down"
	case apperrors.CodeValidationFailed, apperrors.CodeInvalidRequest, apperrors.CodeInvalidRedirect:
		return "invalid_request"
	case apperrors.CodeUnauthorized, apperrors.CodeTokenExpired,
		apperrors.CodeInvalidSignature, apperrors.CodeInvalidAudience:
		return "invalid_token"
	default:
		return "server_error"
	}
}
