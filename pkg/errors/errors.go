package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes shared by the webhook pipeline
const (
	CodeVerification      = "VERIFICATION_FAILED"
	CodeMalformedInput    = "MALFORMED_INPUT"
	CodeCompletion        = "COMPLETION_PROVIDER_ERROR"
	CodePersistence       = "PERSISTENCE_ERROR"
	CodeUnknownChannel    = "UNKNOWN_CHANNEL"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
	Stack      string `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// Wrap creates an application error around an underlying cause
func Wrap(statusCode int, code string, message string, err error) *AppError {
	appErr := NewError(statusCode, code, message)
	appErr.Err = err
	return appErr
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewForbiddenError creates a 403 Forbidden error
func NewForbiddenError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewTooManyRequestsError creates a 429 Too Many Requests error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewVerificationError reports a bad or missing channel signature
func NewVerificationError(message string) *AppError {
	return NewError(http.StatusForbidden, CodeVerification, message)
}

// NewMalformedInputError reports an inbound payload that cannot be processed
func NewMalformedInputError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeMalformedInput, message)
}

// NewCompletionError wraps a failure of the language-model collaborator
func NewCompletionError(message string, err error) *AppError {
	return Wrap(http.StatusBadGateway, CodeCompletion, message, err)
}

// NewPersistenceError wraps a storage failure
func NewPersistenceError(message string, err error) *AppError {
	return Wrap(http.StatusInternalServerError, CodePersistence, message, err)
}

// HasCode reports whether any AppError in err's chain carries code
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Is checks if the target error is of type AppError with the same code
func Is(err error, target *AppError) bool {
	if target == nil {
		return false
	}
	return HasCode(err, target.Code)
}
