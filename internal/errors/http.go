package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Standard HTTP error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeConflict           = "CONFLICT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

type correlationKey struct{}

// ContextWithCorrelationID attaches a request or correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the ID attached by ContextWithCorrelationID.
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// HTTPError maps a failure to a status and envelope.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTPError returns an HTTPError without a cause.
func NewHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// WriteHTTPError writes the standard JSON error envelope.
func WriteHTTPError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := HTTPErrorResponse{Error: HTTPErrorBody{Code: code, Message: message, Details: details}}
	if r != nil {
		body.Error.RequestID = CorrelationID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RespondWithError writes err as a JSON error envelope. HTTPError and
// gofulmen ErrorEnvelope keep their codes; anything else is a 500.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		WriteHTTPError(w, r, httpErr.Status, httpErr.Code, httpErr.Message, httpErr.Details)
		return
	}
	var env *gferrors.ErrorEnvelope
	if errors.As(err, &env) {
		if env.CorrelationID == "" && r != nil {
			tagged := *env
			tagged.CorrelationID = CorrelationID(r.Context())
			env = &tagged
		}
		WriteEnvelope(w, env, http.StatusInternalServerError)
		return
	}
	WriteHTTPError(w, r, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
}

// WriteEnvelope writes a gofulmen error envelope in the server's JSON
// error shape. Details and Context are merged, Context winning.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	var details map[string]any
	if len(env.Details) > 0 || len(env.Context) > 0 {
		details = make(map[string]any, len(env.Details)+len(env.Context))
		maps.Copy(details, env.Details)
		maps.Copy(details, env.Context)
	}
	body := HTTPErrorResponse{Error: HTTPErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   details,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
