// Package apperrors defines the service-wide error taxonomy. Every error
// surfaced over HTTP carries a stable machine-readable code plus the
// correlation id of the request that produced it.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeQuoteExpired        Code = "QUOTE_EXPIRED"
	CodeComplianceRejected  Code = "COMPLIANCE_REJECTED"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeInternalError       Code = "INTERNAL_ERROR"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeValidationError     Code = "VALIDATION_ERROR"
)

// Error is the canonical application error. Details is optional structured
// context safe to return to the caller.
type Error struct {
	Code          Code           `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error kept out of the wire representation.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// WithDetails merges structured context into the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCorrelation stamps the request correlation id onto the error.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(message string) *Error   { return New(CodeBadRequest, message) }
func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }
func Forbidden(message string) *Error    { return New(CodeForbidden, message) }
func NotFound(message string) *Error     { return New(CodeNotFound, message) }
func Conflict(message string) *Error     { return New(CodeConflict, message) }
func Validation(message string) *Error   { return New(CodeValidationError, message) }
func Internal(message string) *Error     { return New(CodeInternalError, message) }

// StatusCode maps an error code to its HTTP status.
func StatusCode(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidationError:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeIdempotencyConflict:
		return http.StatusConflict
	case CodeQuoteExpired, CodeComplianceRejected, CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// From normalizes any error into an *Error, wrapping unknown errors as
// INTERNAL_ERROR without leaking their message to the client.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error").WithCause(err)
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
