package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewStoreError creates a store error with operation context
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreQuery, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Persistence operation failed")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource string, identifier interface{}) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewPublishError classifies a publishing API failure by HTTP status code.
// Rate-limit responses are retryable by the executor's policy; permission
// and authentication failures are terminal.
func NewPublishError(statusCode int, err error) *AppError {
	var code ErrorCode
	switch statusCode {
	case http.StatusTooManyRequests:
		code = ErrCodeRateLimit
	case http.StatusForbidden:
		code = ErrCodeForbidden
	case http.StatusUnauthorized:
		code = ErrCodeUnauthorized
	default:
		code = ErrCodePublishAPI
	}

	appErr := Wrap(err, code, "publish API call failed").
		WithContext("status_code", statusCode)
	if code == ErrCodeRateLimit || statusCode >= 500 {
		appErr.Retryable = true
	}
	return appErr
}

// NewProviderError creates an error for a data-provider lookup failure.
// Provider failures are always non-fatal to rendering.
func NewProviderError(code ErrorCode, provider string, err error) *AppError {
	return Wrap(err, code, fmt.Sprintf("%s provider lookup failed", provider)).
		WithContext("provider", provider).
		WithUserMessage("External data temporarily unavailable")
}

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig, ErrCodeMissingConfig:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodePublishAPI, ErrCodeWeatherAPI, ErrCodeFinanceAPI:
		if IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case ErrCodeStoreConnection, ErrCodeStoreQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized error payload for the control surface
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	if appErr, ok := err.(*AppError); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = GetUserMessage(err)
		if len(appErr.Context) > 0 {
			publicContext := make(map[string]interface{})
			for k, v := range appErr.Context {
				// Exclude sensitive fields from HTTP responses
				if k != "password" && k != "token" && k != "secret" {
					publicContext[k] = v
				}
			}
			if len(publicContext) > 0 {
				response.Error.Context = publicContext
			}
		}
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
	}

	return response
}
