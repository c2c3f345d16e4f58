// Package errors defines the typed service errors returned by the relay.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure in API responses.
type ErrorCode string

const (
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken        ErrorCode = "INVALID_TOKEN"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeStorageUnavailable  ErrorCode = "STORAGE_UNAVAILABLE"
	CodeIdentityUnavailable ErrorCode = "IDENTITY_UNAVAILABLE"
	CodeMisconfigured       ErrorCode = "MISCONFIGURED"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error carrying its HTTP mapping.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns the error with key set in its details.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Unauthorized reports a caller whose identity could not be resolved.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a bearer credential that failed validation.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

// BadRequest reports a malformed request.
func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// NotFound reports a missing resource.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// StorageUnavailable reports a signal store failure.
func StorageUnavailable(err error) *ServiceError {
	return newError(CodeStorageUnavailable, http.StatusServiceUnavailable, "Signal store unavailable", err)
}

// IdentityUnavailable reports that caller identity could not be checked
// because the identity service failed.
func IdentityUnavailable(err error) *ServiceError {
	return newError(CodeIdentityUnavailable, http.StatusServiceUnavailable, "Identity service unavailable", err)
}

// Misconfigured reports a missing or invalid server-side setting.
func Misconfigured(setting string) *ServiceError {
	return newError(CodeMisconfigured, http.StatusInternalServerError, "Server is not configured for this operation", nil).
		WithDetails("setting", setting)
}

// RateLimitExceeded reports a throttled caller.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal reports an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
