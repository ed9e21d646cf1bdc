// Package errors maps application errors onto the HTTP error envelope and
// carries the request id through contexts.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes used in HTTP responses.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError is an error with a stable code and HTTP status.
type AppError struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewValidation reports a rejected request.
func NewValidation(message string, details map[string]any) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Status: http.StatusBadRequest, Details: details}
}

// WrapInternal wraps err as an internal error. The request id from ctx, if any,
// is recorded in the details.
func WrapInternal(ctx context.Context, err error, message string) *AppError {
	appErr := &AppError{Code: CodeInternal, Message: message, Status: http.StatusInternalServerError, Err: err}
	if id := RequestIDFrom(ctx); id != "" {
		appErr.Details = map[string]any{"requestId": id}
	}
	return appErr
}

// AsAppError returns the first *AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

type requestIDKey struct{}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id stored in ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
