package middleware

import (
	"fmt"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/livyctl/internal/errors"
	"github.com/3leaps/livyctl/internal/observability"
)

// ErrorResponse is the JSON body written for recovered failures.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts handler panics into a 500 JSON error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestID := apperrors.CorrelationID(r.Context())
			if observability.CLILogger != nil {
				observability.CLILogger.Error("Recovered handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID))
			}
			envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec)).
				WithCorrelationID(requestID).
				WithPath(r.URL.Path)
			_, _ = envelope.WithSeverity(errors.SeverityHigh)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	apperrors.WriteEnvelope(w, envelope, status)
}
