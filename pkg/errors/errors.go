package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application errors.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeAlreadyExists    ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeForbidden        ErrorCode = "FORBIDDEN"
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail   ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeResponseTooLarge ErrorCode = "RESPONSE_TOO_LARGE"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeStorageExceeded  ErrorCode = "STORAGE_EXCEEDED"
	CodeSyncConflict     ErrorCode = "SYNC_CONFLICT"
)

// AppError is the error type surfaced across layer boundaries.
// Context carries structured detail (offending field, status code, provider)
// for the presentation layer.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext attaches a context key/value and returns the error for chaining.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewAlreadyExistsError(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewSizeError reports a response exceeding the configured size budget.
func NewSizeError(actual, max int64) *AppError {
	e := &AppError{
		Code:    CodeResponseTooLarge,
		Message: fmt.Sprintf("response size %d exceeds maximum %d", actual, max),
	}
	return e.WithContext("actual_bytes", actual).WithContext("max_bytes", max)
}

// NewCircuitOpenError reports a request rejected by an open circuit breaker.
func NewCircuitOpenError(service string) *AppError {
	e := &AppError{
		Code:    CodeCircuitOpen,
		Message: service + " temporarily unavailable (circuit breaker open)",
	}
	return e.WithContext("service", service)
}

func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

func IsInvalidInput(err error) bool {
	return hasCode(err, CodeInvalidInput)
}

func IsCircuitOpen(err error) bool {
	return hasCode(err, CodeCircuitOpen)
}

func IsResponseTooLarge(err error) bool {
	return hasCode(err, CodeResponseTooLarge)
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
