package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(assert.AnError))
	assert.Equal(t, foundry.ExitInvalidArgument, ExitCode(NewInvalidArgumentError("bad flag", nil)))

	wrapped := fmt.Errorf("submit: %w", NewExternalServiceError("livy down"))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCode(wrapped))
}

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "boom (exit code 3)", New(3, "boom", nil).Error())
	err := New(3, "boom", assert.AnError)
	assert.Contains(t, err.Error(), assert.AnError.Error())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWrapInternal(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "req-1")
	err := WrapInternal(ctx, assert.AnError, "open store")
	assert.Equal(t, 1, err.Code)
	assert.Contains(t, err.Message, "[req-1]")

	plain := WrapInternal(context.Background(), assert.AnError, "open store")
	assert.Equal(t, "open store", plain.Message)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/batches/9", nil)
	req = req.WithContext(ContextWithCorrelationID(req.Context(), "req-9"))

	rec := httptest.NewRecorder()
	RespondWithError(rec, req, fmt.Errorf("lookup: %w", NewHTTPError(http.StatusNotFound, CodeNotFound, "batch 9 not found")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody(t, rec)
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Equal(t, "req-9", body.Error.RequestID)

	rec = httptest.NewRecorder()
	RespondWithError(rec, req, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeInternal, decodeBody(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	RespondWithError(rec, req, gferrors.NewErrorEnvelope("QUOTA", "too many batches"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "QUOTA", body.Error.Code)
	assert.Equal(t, "req-9", body.Error.RequestID)
}

func TestWriteEnvelope_MergesDetailsAndContext(t *testing.T) {
	env := gferrors.NewErrorEnvelope(CodeConflict, "batch 4 already deleted").
		WithCorrelationID("c-1").
		WithDetails(map[string]any{"id": 4, "state": "dead"})
	env, err := env.WithContext(map[string]any{"state": "killed", "cluster": "spark-dev"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	WriteEnvelope(rec, env, http.StatusConflict)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, CodeConflict, body.Error.Code)
	assert.Equal(t, "c-1", body.Error.RequestID)
	assert.Equal(t, map[string]any{"id": float64(4), "state": "killed", "cluster": "spark-dev"}, body.Error.Details)
}
