package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/fetcher"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/state"
	apperrors "github.com/avrlink/avrlink/internal/errors"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
}

type stubReceiver struct{}

func (stubReceiver) State() state.Snapshot      { return state.Snapshot{Zone: core.Zone2, Power: "STANDBY"} }
func (stubReceiver) Info() *fetcher.DeviceInfo  { return nil }
func (stubReceiver) Healthy() bool              { return false }
func (stubReceiver) Rates() []core.RateSnapshot { return nil }
func (stubReceiver) Refresh(context.Context) (*receiver.RefreshResult, error) {
	return nil, receiver.ErrNotSetup
}
func (stubReceiver) SendCommand(context.Context, string) error { return nil }

func TestServerMountsReceiverRoutes(t *testing.T) {
	srv := New("127.0.0.1", 0, WithReceiver(stubReceiver{}, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"power":"STANDBY"`)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/refresh", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerWithoutReceiverHasNoAPI(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, srv.Shutdown(context.Background()))
}
