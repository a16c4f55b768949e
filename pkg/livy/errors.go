package livy

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Client wraps exactly one of them.
var (
	// ErrNetwork is a transient connection or timeout failure.
	ErrNetwork = errors.New("network error")

	// ErrAuth means the caller is not signed in or the token was rejected.
	ErrAuth = errors.New("authentication failed")

	// ErrSubmission means the remote service rejected the job spec.
	ErrSubmission = errors.New("job submission rejected")

	// ErrParse is a malformed response body.
	ErrParse = errors.New("malformed response")

	// ErrNotFound means the batch, driver or log is not available (yet).
	ErrNotFound = errors.New("not found")

	// ErrInvalidSize rejects log fetches with a non-positive size.
	ErrInvalidSize = errors.New("log fetch size must be positive")
)

// Error wraps a failed Livy call with its operation and error kind.
type Error struct {
	// Op is the client operation, e.g. "Create" or "FetchLog".
	Op string

	// Kind is one of the package error kinds.
	Kind error

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Err is the underlying cause, may be nil.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("livy %s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, status int, err error) *Error {
	return &Error{Op: op, Kind: kind, StatusCode: status, Err: err}
}

// IsNetwork returns true for transient transport failures.
func IsNetwork(err error) bool { return errors.Is(err, ErrNetwork) }

// IsAuth returns true when the request was not authenticated.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsSubmission returns true when the job spec was rejected.
func IsSubmission(err error) bool { return errors.Is(err, ErrSubmission) }

// IsParse returns true for malformed responses.
func IsParse(err error) bool { return errors.Is(err, ErrParse) }

// IsNotFound returns true when the resource is not available yet.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCanceled returns true when err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// kindForStatus classifies a non-2xx response. Remaining 4xx statuses mean
// the service refused the request as specified.
func kindForStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrAuth
	case status == 404:
		return ErrNotFound
	case status == 408 || status == 429 || status >= 500:
		return ErrNetwork
	default:
		return ErrSubmission
	}
}
