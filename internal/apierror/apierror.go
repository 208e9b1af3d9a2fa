// Package apierror defines the typed errors surfaced through the HTTP API.
// Each error carries a fixed HTTP status and stable machine-readable code;
// handlers render them into the uniform response envelope.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes forming the API contract.
const (
	CodeBadRequest              = "BAD_REQUEST"
	CodeValidationFailed        = "VALIDATION_FAILED"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeNotFound                = "NOT_FOUND"
	CodePendingRequestExists    = "ORGANIZATION_REQUEST_PENDING_EXISTS"
	CodeInvalidRequestState     = "ORGANIZATION_REQUEST_INVALID_STATE"
	CodeClerkOperationFailed    = "CLERK_OPERATION_FAILED"
	CodeWebhookSignatureInvalid = "WEBHOOK_SIGNATURE_INVALID"
	CodeBillingContextRequired  = "BILLING_CONTEXT_REQUIRED"
	CodeSubscriptionRequired    = "SUBSCRIPTION_REQUIRED"
	CodeSubscriptionInactive    = "SUBSCRIPTION_INACTIVE"
	CodeInternalError           = "INTERNAL_ERROR"
)

// Issue is one field-level validation problem.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is a typed API error with a fixed HTTP status and code.
type Error struct {
	Status  int
	Code    string
	Message string
	Issues  []Issue
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error without changing the API contract.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// New creates a typed API error.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// BadRequest is a 400 with the given code and message.
func BadRequest(code, message string) *Error {
	return New(http.StatusBadRequest, code, message)
}

// Validation is a 400 VALIDATION_FAILED carrying field issues.
func Validation(message string, issues ...Issue) *Error {
	err := New(http.StatusBadRequest, CodeValidationFailed, message)
	err.Issues = issues
	return err
}

// Unauthorized is a 401 UNAUTHORIZED.
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden is a 403 FORBIDDEN.
func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeForbidden, message)
}

// NotFound is a 404 NOT_FOUND.
func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// Conflict is a 409 with the given code.
func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

// Internal is a 500 INTERNAL_ERROR wrapping the cause.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternalError, "An internal error occurred.").WithCause(err)
}

// From extracts a typed API error, converting anything else into a 500.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}
