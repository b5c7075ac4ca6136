package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode enumerates the runtime's error taxonomy (spec §7).
type ErrorCode string

const (
	CodeValidation          ErrorCode = "validation_error"
	CodeNotFound            ErrorCode = "not_found"
	CodeConflict            ErrorCode = "conflict"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeForbidden           ErrorCode = "forbidden"
	CodeMaxIterations       ErrorCode = "max_iterations_exceeded"
	CodeToolExecution       ErrorCode = "tool_execution_error"
	CodeRuntime             ErrorCode = "runtime_error"
	CodeProviderHTTP        ErrorCode = "provider_http_error"
	CodeProviderCanceled    ErrorCode = "provider_canceled"
	CodeForkUnauthorized    ErrorCode = "fork_unauthorized"
	CodeForkExpired         ErrorCode = "fork_expired"
	CodeInternal            ErrorCode = "internal_error"
)

// AppError is the runtime's typed error, carrying the taxonomy code, an
// HTTP status mapping, a human message, and an optional wrapped cause.
// Grounded on pkg/errors/errors.go's AppError/ErrorCode/Is*Error pattern,
// extended with the full taxonomy named in spec §7.
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

func (e *AppError) Unwrap() error { return e.Err }

// HTTPStatus maps the error code onto the status the gateway returns.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeForkUnauthorized, CodeForkExpired:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func newErr(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func newErrWithCause(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewValidationError(message string) *AppError { return newErr(CodeValidation, message) }

// NewNotFoundError reports that a resource of the given kind/id was not
// found, e.g. NewNotFoundError("agent", id).
func NewNotFoundError(kind, id string) *AppError {
	return newErr(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id))
}

func NewConflictError(message string) *AppError { return newErr(CodeConflict, message) }

func NewUnauthorizedError(message string) *AppError { return newErr(CodeUnauthorized, message) }

func NewForbiddenError(message string) *AppError { return newErr(CodeForbidden, message) }

func NewMaxIterationsError(step int) *AppError {
	return newErr(CodeMaxIterations, fmt.Sprintf("max iterations exceeded at step %d", step))
}

func NewToolExecutionError(toolName string, cause error) *AppError {
	return newErrWithCause(CodeToolExecution, fmt.Sprintf("tool %q failed", toolName), cause)
}

func NewRuntimeError(message string, cause error) *AppError {
	return newErrWithCause(CodeRuntime, message, cause)
}

func NewProviderHTTPError(status int, message string) *AppError {
	return newErr(CodeProviderHTTP, fmt.Sprintf("provider returned %d: %s", status, message))
}

func NewProviderCanceledError() *AppError {
	return newErr(CodeProviderCanceled, "model call canceled")
}

func NewForkUnauthorizedError() *AppError { return newErr(CodeForkUnauthorized, "fork token invalid") }

func NewForkExpiredError() *AppError { return newErr(CodeForkExpired, "fork token expired") }

func NewInternalError(message string) *AppError { return newErr(CodeInternal, message) }

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return newErrWithCause(CodeInternal, message, cause)
}

func codeIs(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFoundError(err error) bool     { return codeIs(err, CodeNotFound) }
func IsValidationError(err error) bool   { return codeIs(err, CodeValidation) }
func IsConflictError(err error) bool     { return codeIs(err, CodeConflict) }
func IsUnauthorizedError(err error) bool { return codeIs(err, CodeUnauthorized) }
func IsForbiddenError(err error) bool    { return codeIs(err, CodeForbidden) }
