package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code is a machine-readable error code surfaced alongside every user visible failure.
type Code string

// Code values.
const (
	CodeInternal          Code = "internal"
	CodeTransient         Code = "transient"
	CodeInvalidInput      Code = "invalid_input"
	CodeInvalidConfig     Code = "invalid_config"
	CodeInvariant         Code = "invariant_violation"
	CodeNotFound          Code = "not_found"
	CodeArtifactTooLarge  Code = "artifact_too_large"
	CodeArtifactMalformed Code = "artifact_malformed"
	CodeReportMalformed   Code = "report_malformed"
	CodeDownloadFailed    Code = "download_failed"
	CodeListFailed        Code = "list_failed"
	CodeNoArtifacts       Code = "no_artifacts_processed"
	CodeCancelled         Code = "cancelled"
	CodeTimeout           Code = "timeout"
)

var (
	// ErrTimeoutExceeded is returned when graceful timeout period exceeds.
	ErrTimeoutExceeded = New("Timeout exceeded")
	// ErrInvalidEnvironemt is returned when the env is incorrect.
	ErrInvalidEnvironemt = New("Invalid Environment")
	// ErrInvalidQueuePayload is returned when type assertion fails in queue producer.
	ErrInvalidQueuePayload = New("Invalid Queue Payload")
	// GenericErrorMessage is generic error message returned to callers
	GenericErrorMessage = New("Unexpected error. Please try again later.")
	// ErrAzureConfig is returned when missing values in azure blob config
	ErrAzureConfig = NewWithCode(CodeInvalidConfig, "missing values in azure blob config")
	// ErrTypeAssertionFailed is returned when type assertion fails for a var
	ErrTypeAssertionFailed = New("type assertion failed")
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = NewWithCode(CodeNotFound, "Not Found")
	// ErrInvalidDriver is returned when SCM driver is not defined
	ErrInvalidDriver = NewWithCode(CodeInvalidConfig, "Invalid Git SCM driver")
	// ErrInvalidLoggerInstance is returned when logger instance is not supported.
	ErrInvalidLoggerInstance = NewWithCode(CodeInvalidConfig, "Invalid logger instance")
	// ErrMarshalJSON is returned when json marshal failed
	ErrMarshalJSON = New("JSON marshal failed")
	// ErrUnMarshalJSON is returned when json unmarshal failed
	ErrUnMarshalJSON = New("JSON unmarshal failed")
	// ErrRedisKeyNotFound is returned when redis key is not found
	ErrRedisKeyNotFound = NewWithCode(CodeNotFound, "Redis key not found")
	// ErrMissingTenant is returned when an operation is invoked without a resolvable org/repo context.
	ErrMissingTenant = NewWithCode(CodeInvariant, "missing organization or repository context")
	// ErrUnknownArtifactProvider is returned when the configured artifact provider is not supported.
	ErrUnknownArtifactProvider = NewWithCode(CodeInvalidConfig, "unknown artifact provider")
)

// Error represents a json-encoded error with a machine-readable code.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// New returns a new error message.
func New(text string) error {
	return &Error{Code: CodeInternal, Message: text}
}

// NewWithCode returns a new error message carrying the given code.
func NewWithCode(code Code, text string) error {
	return &Error{Code: code, Message: text}
}

// Wrap annotates err with a code and a human readable reason.
func Wrap(err error, code Code, text string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: text, err: err}
}

// CodeOf returns the code of the first coded error in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if IsTransient(err) {
		return CodeTransient
	}
	return CodeInternal
}

// ErrSkipRetry is returned when retry attempt needs to be skipped
type ErrSkipRetry struct {
	Err error
}

// Error gives a human-readable description of the error.
func (e *ErrSkipRetry) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *ErrSkipRetry) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ErrSkipRetry{Err: err}
}

type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }

func (t *transientError) Unwrap() error { return t.err }

// Transient marks err as a transient remote error that should be retried with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying at the job level.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var skip *ErrSkipRetry
	if errors.As(err, &skip) {
		return false
	}
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return errors.Is(err, ErrDeadlock) || errors.Is(err, ErrLockWaitTimeout)
}

// StatusError is returned by remote HTTP collaborators on a non 2xx response.
type StatusError struct {
	StatusCode int
	Endpoint   string
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", s.StatusCode, s.Endpoint)
}

// Retryable reports whether the status code denotes a transient failure.
func (s *StatusError) Retryable() bool {
	//nolint:gomnd
	return s.StatusCode >= 500 || s.StatusCode == 429
}
