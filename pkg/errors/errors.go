package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for retry and reporting decisions.
type Kind string

const (
	// KindFetch marks a listing or detail page that could not be retrieved.
	KindFetch Kind = "fetch"
	// KindParse marks markup whose expected structure is absent.
	KindParse Kind = "parse"
	// KindTransient marks a transfer failure worth retrying (network error,
	// timeout, 5xx, 429).
	KindTransient Kind = "transient"
	// KindTerminal marks a transfer failure that will not improve with a
	// retry (4xx, malformed response).
	KindTerminal Kind = "terminal"
	// KindSizeMismatch marks a completed transfer whose byte count disagrees
	// with the declared size. Treated as terminal and invalidates resume.
	KindSizeMismatch Kind = "size_mismatch"
	// KindIO marks a local filesystem failure.
	KindIO Kind = "io"
	// KindCanceled marks an interrupted operation.
	KindCanceled Kind = "canceled"
	KindUnknown  Kind = "unknown"
)

// Error carries a kind alongside the message and, for HTTP failures, the
// status code.
type Error struct {
	Kind    Kind
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode creates an Error carrying an HTTP status code.
func WithCode(kind Kind, code int, message string) *Error {
	return &Error{Kind: kind, Message: message, Code: code}
}

// KindOf extracts the kind from an error chain. Errors without a typed
// ancestor report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether errors of a kind should be retried.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransient, KindFetch:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode reports whether an HTTP status indicates a
// transient condition.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // network error, no response
		return true
	case 429:
		return true
	default:
		return statusCode >= 500
	}
}
