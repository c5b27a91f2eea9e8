package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an AppError for HTTP-status mapping and client messaging.
type ErrorCode string

const (
	CodeConfig          ErrorCode = "CONFIG_ERROR"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeBusySession     ErrorCode = "BUSY_SESSION"
	CodeOverloaded      ErrorCode = "OVERLOADED"
	CodeModel           ErrorCode = "MODEL_ERROR"
	CodeTool            ErrorCode = "TOOL_ERROR"
	CodeDeadline        ErrorCode = "DEADLINE_EXCEEDED"
	CodeClientDisconnect ErrorCode = "CLIENT_DISCONNECT"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
)

// AppError is the one error type every component returns across package
// boundaries. Handlers map Code to a status code in one place instead of
// inlining status decisions at every call site.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
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

func NewConfigError(message string) *AppError {
	return &AppError{Code: CodeConfig, Message: message}
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func NewBusySessionError(message string) *AppError {
	return &AppError{Code: CodeBusySession, Message: message}
}

func NewOverloadedError(message string) *AppError {
	return &AppError{Code: CodeOverloaded, Message: message}
}

func NewModelError(message string, cause error) *AppError {
	return &AppError{Code: CodeModel, Message: message, Err: cause}
}

func NewToolError(message string, cause error) *AppError {
	return &AppError{Code: CodeTool, Message: message, Err: cause}
}

func NewDeadlineError(message string) *AppError {
	return &AppError{Code: CodeDeadline, Message: message}
}

func NewClientDisconnectError(message string) *AppError {
	return &AppError{Code: CodeClientDisconnect, Message: message}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
