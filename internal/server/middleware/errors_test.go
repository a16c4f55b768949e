package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/livyctl/internal/errors"
)

func serve(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantStatus  int
		wantMessage string
	}{
		{
			name: "passes through",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "string panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("batch table corrupted")
			},
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "panic: batch table corrupted",
		},
		{
			name: "error panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic(errors.New("nil batch"))
			},
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "panic: nil batch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			require.NotPanics(t, func() {
				rec = serve(Recovery(tt.handler), http.MethodPost, "/batches", nil)
			})
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantMessage == "" {
				return
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeError(t, rec)
			assert.Equal(t, apperrors.CodeInternal, body.Code)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(h, http.MethodGet, "/batches/0/log", nil)
	})
}

func TestRecovery_CarriesRequestID(t *testing.T) {
	h := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := serve(h, http.MethodDelete, "/batches/3", map[string]string{RequestIDHeader: "req-42"})
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", decodeError(t, rec).RequestID)
}

func TestWriteErrorResponse_Details(t *testing.T) {
	env := gferrors.NewErrorEnvelope(apperrors.CodeBadRequest, "invalid batch request")
	env, _ = env.WithContext(map[string]any{"field": "file"})

	rec := httptest.NewRecorder()
	writeErrorResponse(rec, env.WithCorrelationID("corr-1"), http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeBadRequest, body.Code)
	assert.Equal(t, "corr-1", body.RequestID)
	assert.Equal(t, "file", body.Details["field"])
}

func TestRequestID_GeneratesWhenMissing(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = apperrors.CorrelationID(r.Context())
	}))

	rec := serve(h, http.MethodGet, "/batches", nil)
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestLogging_RecordsStatus(t *testing.T) {
	h := Logging(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/batches/9", nil).Code)

	assert.NotNil(t, Logging(nil)(http.NotFoundHandler()))
}
