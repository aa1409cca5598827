package provider

import (
	"errors"
	"fmt"
)

// ErrorClass drives how the delivery pipeline reacts to a failed call.
type ErrorClass string

const (
	// ClassValidation - bad input, never enqueued, never retried.
	ClassValidation ErrorClass = "validation"
	// ClassPolicy - window expired or disallowed content, never retried.
	ClassPolicy ErrorClass = "policy"
	// ClassTransient - timeout/5xx, retried with backoff.
	ClassTransient ErrorClass = "transient"
	// ClassRejected - provider rejected the content or account, terminal.
	ClassRejected ErrorClass = "rejected"
	// ClassDisconnected - session/credentials invalid, triggers a
	// reconnection flow upstream instead of a resend prompt.
	ClassDisconnected ErrorClass = "disconnected"
)

// SendError is the uniform failure surfaced by adapters and policy checks.
type SendError struct {
	Class   ErrorClass
	Code    string
	Message string
	cause   error
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the delivery worker may retry the send.
func (e *SendError) Retryable() bool {
	return e.Class == ClassTransient
}

func NewSendError(class ErrorClass, code, message string) *SendError {
	return &SendError{Class: class, Code: code, Message: message}
}

// WrapTransient marks an underlying transport error as retryable.
func WrapTransient(code string, err error) *SendError {
	return &SendError{Class: ClassTransient, Code: code, Message: err.Error(), cause: err}
}

// FromHTTPStatus maps a non-2xx provider response to the taxonomy.
// 401/403 mean the session or credentials are invalid; 408/429 and 5xx are
// retryable; every other 4xx is a terminal provider rejection.
func FromHTTPStatus(status int, body string) *SendError {
	msg := fmt.Sprintf("unexpected status code: %d body=%q", status, body)
	switch {
	case status == 401 || status == 403:
		return NewSendError(ClassDisconnected, "session_invalid", msg)
	case status == 408 || status == 429 || status >= 500:
		return NewSendError(ClassTransient, fmt.Sprintf("http_%d", status), msg)
	default:
		return NewSendError(ClassRejected, fmt.Sprintf("http_%d", status), msg)
	}
}

// ClassOf extracts the error class, defaulting unknown errors to transient
// so that plain network failures stay retryable.
func ClassOf(err error) ErrorClass {
	var se *SendError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassTransient
}

// CodeOf extracts the error code, or a class-derived fallback.
func CodeOf(err error) string {
	var se *SendError
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}
	return string(ClassOf(err))
}
