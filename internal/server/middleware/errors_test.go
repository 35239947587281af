package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecovery(t *testing.T) {
	collector := setupTelemetry(t)
	h := RequestID(RequestMetrics(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("decoder exploded")
	}))))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { h.ServeHTTP(rec, req) })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "req-42", body.Error.RequestID)
	assert.Equal(t, "decoder exploded", body.Error.Details["panic"])
	assert.NotContains(t, body.Error.Details, "stack")

	assert.Equal(t, 1, collector.CountMetricsByName("app_panics_total"))
	assert.Equal(t, 1, collector.CountMetricsByName("http_errors_total"))
}

func TestRecoveryPassesThrough(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodGet, "/").Code)
}
