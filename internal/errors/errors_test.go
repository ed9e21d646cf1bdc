package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/imagequeue/pkg/gateway"
	"github.com/3leaps/imagequeue/pkg/generator"
	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/manifest"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation",
			err:        &gateway.ValidationError{Message: "prompt required"},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidation,
		},
		{
			name:       "not found",
			err:        fmt.Errorf("get: %w", jobstore.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
		},
		{
			name:       "conflict",
			err:        fmt.Errorf("update: %w", jobstore.ErrConflict),
			wantStatus: http.StatusConflict,
			wantCode:   CodeConflict,
		},
		{
			name:       "enqueue",
			err:        &gateway.EnqueueError{JobID: "job_1", Err: assert.AnError},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeServiceUnavailable,
		},
		{
			name:       "store",
			err:        &jobstore.StoreError{Op: "create", Err: assert.AnError},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeServiceUnavailable,
		},
		{
			name:       "provider",
			err:        generator.NewProviderError("rate limited"),
			wantStatus: http.StatusBadGateway,
			wantCode:   CodeBadGateway,
		},
		{
			name:       "app error",
			err:        NewExternalServiceError("down"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeServiceUnavailable,
		},
		{
			name:       "unknown",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestClassify_UnknownErrorHidesDetail(t *testing.T) {
	_, body := Classify(fmt.Errorf("secret connection string leaked"))
	assert.Equal(t, "internal error", body.Message)
}

func TestRespondWithError_ValidationFields(t *testing.T) {
	err := &gateway.ValidationError{
		Message: "invalid request",
		Fields:  manifest.ValidationErrors{{Path: "/size", Message: "unsupported size"}},
	}

	req := httptest.NewRequest(http.MethodPost, "/images", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeValidation, body.Error.Code)
	assert.Equal(t, "invalid request", body.Error.Message)
	assert.Equal(t, "req-1", body.Error.RequestID)

	fields, ok := body.Error.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unsupported size", fields["/size"])
}

func TestWrapInternal(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-9")
	err := WrapInternal(ctx, assert.AnError, "boom")

	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, CodeInternal, err.Code)
	assert.Equal(t, "req-9", err.Details["requestId"])
	assert.Contains(t, err.Error(), "boom")
}

func TestRequestIDFrom_Empty(t *testing.T) {
	assert.Equal(t, "", RequestIDFrom(context.Background()))
}
