// Package resilience provides retry, circuit breaking, and the error
// taxonomy used by lifecycle operations.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Code classifies a lifecycle failure. The code decides retry behavior:
// API_LIMIT_EXCEEDED and transient network failures are retried with
// backoff up to the attempt ceiling; PROCESSING_FAILED is retried across
// passes via the record's attempt counter; INVALID_INPUT and
// FILE_NOT_FOUND are surfaced immediately; SYSTEM_ERROR aborts the whole
// batch with no partial commit.
type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeFileNotFound     Code = "FILE_NOT_FOUND"
	CodeProcessingFailed Code = "PROCESSING_FAILED"
	CodeAPILimitExceeded Code = "API_LIMIT_EXCEEDED"
	CodeSystemError      Code = "SYSTEM_ERROR"
)

// CodedError attaches a taxonomy code to an error chain.
type CodedError struct {
	Code Code
	Err  error
}

func (e *CodedError) Error() string {
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// NewCoded wraps err with a taxonomy code.
func NewCoded(code Code, err error) *CodedError {
	return &CodedError{Code: code, Err: err}
}

// Codef builds a new coded error from a message.
func Codef(code Code, msg string) *CodedError {
	return &CodedError{Code: code, Err: eris.New(msg)}
}

// CodeOf extracts the taxonomy code from an error chain. Unclassified
// errors report PROCESSING_FAILED, the retriable-by-attempt default.
func CodeOf(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeProcessingFailed
}

// IsBatchFatal reports whether the error must abort the whole batch
// rather than being accumulated as a per-record failure.
func IsBatchFatal(err error) bool {
	return CodeOf(err) == CodeSystemError
}

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient returns true if the error chain contains a TransientError,
// an API_LIMIT_EXCEEDED code, or a common transient network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var ce *CodedError
	if errors.As(err, &ce) && ce.Code == CodeAPILimitExceeded {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
