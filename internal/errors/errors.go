// Package errors provides the CLI's error envelope and exit code mapping.
package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
)

// ExitError carries a process exit code alongside the failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// New wraps err with an exit code and a human readable message.
func New(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// NewExternalServiceError reports an unreachable dependency (Livy, storage, Azure).
func NewExternalServiceError(message string) *ExitError {
	return New(foundry.ExitExternalServiceUnavailable, message, nil)
}

// NewInvalidArgumentError reports bad user input.
func NewInvalidArgumentError(message string, err error) *ExitError {
	return New(foundry.ExitInvalidArgument, message, err)
}

// ExitCode extracts the exit code from err, defaulting to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	return 1
}

// WrapInternal reports an unexpected failure, tagged with the context's
// correlation ID when one is set.
func WrapInternal(ctx context.Context, err error, message string) *ExitError {
	if id := CorrelationID(ctx); id != "" {
		message = fmt.Sprintf("%s [%s]", message, id)
	}
	return New(1, message, err)
}

// HTTPErrorBody is the payload of HTTPErrorResponse.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope returned by the emulator server.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}
