package docapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

const (
	CodeValidation      = "validation"
	CodePayloadTooLarge = "payload_too_large"
	CodeTransient       = "transient"
	CodeStreamTimeout   = "stream_timeout"
	CodeJobTerminal     = "job_terminal"
)

// Error is the single error shape the client surfaces. Transient controls
// whether the caller may retry the identical request; a validation failure
// must not be replayed unmodified.
type Error struct {
	Code      string
	Status    int
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(status int, message string) *Error {
	return &Error{Code: CodeValidation, Status: status, Message: message}
}

func newPayloadTooLargeError(message string) *Error {
	return &Error{Code: CodePayloadTooLarge, Status: http.StatusRequestEntityTooLarge, Message: message}
}

func newTransientError(status int, message string) *Error {
	return &Error{Code: CodeTransient, Status: status, Message: message, Transient: true}
}

func newStreamTimeoutError(message string) *Error {
	return &Error{Code: CodeStreamTimeout, Message: message, Transient: true}
}

func newJobTerminalError(jobStatus, message string) *Error {
	return &Error{Code: CodeJobTerminal, Message: fmt.Sprintf("job %s: %s", jobStatus, message)}
}

// errorFromStatus maps an HTTP response status to the taxonomy. 413 requires
// the caller to shrink the input; other 4xx are validation failures; 408,
// 429 and all 5xx are worth retrying.
func errorFromStatus(status int, message string) error {
	switch {
	case status == http.StatusRequestEntityTooLarge:
		return newPayloadTooLargeError(message)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return newTransientError(status, message)
	case status >= 500:
		return newTransientError(status, message)
	case status >= 400:
		return newValidationError(status, message)
	default:
		return newTransientError(status, message)
	}
}

// Retryable classifies any error reaching the stage executors. Context
// cancellation is never retryable: the caller asked us to stop.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unrecognized transport failures (connection reset, EOF mid-body) are
	// treated as transient.
	return true
}
