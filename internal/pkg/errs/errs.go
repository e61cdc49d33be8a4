package errs

import (
	"errors"
	"fmt"
	"net/http"

	"edchat/internal/pkg/logx"
)

// CustomError is the error type shared by handlers and the API client.
// It carries a business code, a user-friendly message and the HTTP status.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the user-friendly error description.
	Message string

	// Status is the HTTP status code that accompanies this error.
	Status int

	// cause is the underlying error, if any. It is never sent to clients.
	cause error
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("error code %d (HTTP %d): %s: %v", e.Code, e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("error code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *CustomError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a *CustomError with the same code, so
// errors.Is(err, errs.NewError(errs.ErrUnauthorized)) works across the wire.
func (e *CustomError) Is(target error) bool {
	var t *CustomError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError returns a fresh *CustomError for a predefined code.
// Unknown codes are logged and collapse to ErrUnknown.
func NewError(code int) *CustomError {
	templateErr, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)
		templateErr = errorMap[ErrUnknown]
	}

	customErr := templateErr
	if customErr.Status == 0 {
		customErr.Status = http.StatusOK
	}

	return &customErr
}

// Wrap is NewError with an attached cause. ErrUnknown causes are logged
// here because the client only ever sees the generic message.
func Wrap(code int, cause error) *CustomError {
	customErr := NewError(code)
	customErr.cause = cause

	if code == ErrUnknown && cause != nil {
		logx.Error(cause, "Handling ErrUnknown with underlying error")
	}

	return customErr
}

// FromResponse rebuilds an error received in a response envelope.
// The message from the server wins over the local template.
func FromResponse(code int, message string, status int) *CustomError {
	customErr := &CustomError{Code: code, Message: message, Status: status}

	if tmpl, ok := errorMap[code]; ok && message == "" {
		customErr.Message = tmpl.Message
	}

	return customErr
}

// CodeOf returns the business code carried by err, or ErrUnknown.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}
