package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Invocation error codes
const (
	ErrTargetNotFound        ErrorCode = "TARGET_NOT_FOUND"
	ErrTargetVersionNotFound ErrorCode = "TARGET_VERSION_NOT_FOUND"
	ErrExecutionFault        ErrorCode = "EXECUTION_FAULT"
	ErrInterrupted           ErrorCode = "INTERRUPTED"
)

// Graph and request error codes
const (
	ErrGraphInvalid   ErrorCode = "GRAPH_INVALID"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Node       string    `json:"node,omitempty"`
	Model      string    `json:"model,omitempty"`
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code reported by a remote model server.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithNode sets the workflow node the error belongs to.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithModel sets the target model name.
func (e *Error) WithModel(model string) *Error {
	e.Model = model
	return e
}

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error chain.
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

// IsInvocationError reports whether err is one of the four invocation failures
// an invoker may return.
func IsInvocationError(err error) bool {
	switch GetErrorCode(err) {
	case ErrTargetNotFound, ErrTargetVersionNotFound, ErrExecutionFault, ErrInterrupted:
		return true
	}
	return false
}
