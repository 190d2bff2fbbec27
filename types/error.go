package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Graph / workflow error codes
const (
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrDefinitionNotFound ErrorCode = "DEFINITION_NOT_FOUND"
	ErrDefinitionExists   ErrorCode = "DEFINITION_EXISTS"
	ErrRunNotFound        ErrorCode = "RUN_NOT_FOUND"
	ErrHandlerMissing     ErrorCode = "HANDLER_MISSING"
	ErrExpression         ErrorCode = "EXPR_ERROR"
	ErrNodeTimeout        ErrorCode = "NODE_TIMEOUT"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrInvalidParams      ErrorCode = "INVALID_PARAMS"
)

// Upstream / collaborator error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrRetrievalFailed    ErrorCode = "RETRIEVAL_FAILED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Tool adapter error codes
const (
	ErrToolConnect      ErrorCode = "TOOL_CONNECT"
	ErrToolTimeout      ErrorCode = "TOOL_TIMEOUT"
	ErrToolProtocol     ErrorCode = "TOOL_PROTOCOL"
	ErrToolEndpointDown ErrorCode = "TOOL_ENDPOINT_DOWN"
	ErrToolNotFound     ErrorCode = "TOOL_ENDPOINT_NOT_FOUND"
	ErrToolExists       ErrorCode = "TOOL_ENDPOINT_EXISTS"
)

// Class 决定错误在执行器中的处理方式。
type Class string

const (
	ClassValidation Class = "VALIDATION"
	ClassRetryable  Class = "RETRYABLE"
	ClassFatal      Class = "FATAL"
	ClassCancelled  Class = "CANCELLED"
)

// Error represents a structured error with code, class and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Class      Class     `json:"class"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new FATAL Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Class: ClassFatal, Message: message}
}

// NewRetryableError creates a RETRYABLE Error.
func NewRetryableError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Class: ClassRetryable, Message: message}
}

// NewValidationError creates a VALIDATION Error.
func NewValidationError(message string) *Error {
	return &Error{Code: ErrValidation, Class: ClassValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NewCancelledError creates a CANCELLED Error.
func NewCancelledError(message string) *Error {
	return &Error{Code: ErrCancelled, Class: ClassCancelled, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithClass overrides the error class.
func (e *Error) WithClass(class Class) *Error {
	e.Class = class
	return e
}

// WithRetryable marks the error as RETRYABLE (true) or FATAL (false).
func (e *Error) WithRetryable(retryable bool) *Error {
	if retryable {
		e.Class = ClassRetryable
	} else if e.Class == ClassRetryable {
		e.Class = ClassFatal
	}
	return e
}

// WithNodeID attaches the workflow node that produced the error.
func (e *Error) WithNodeID(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// Retryable reports whether the error is classified RETRYABLE.
func (e *Error) Retryable() bool {
	return e.Class == ClassRetryable
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ClassOf classifies any error.
// 未识别的错误视为 FATAL，context 取消/超时视为 CANCELLED。
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok && e.Class != "" {
		return e.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}
	return ClassFatal
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassRetryable
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// WrapError wraps an arbitrary error into a *Error, keeping an existing one intact.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return &Error{Code: code, Class: ClassOf(err), Message: message, Cause: err}
}
