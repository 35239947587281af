package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
)

func TestFromReceiverClassifies(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"invalid argument", fmt.Errorf("zone: %w", core.ErrInvalidArgument), CodeInvalidInput, http.StatusBadRequest},
		{"forbidden", &core.RequestError{URL: "http://avr/goform/AppCommand.xml", Status: 403}, CodeForbidden, http.StatusForbidden},
		{"timeout", &core.TimeoutError{Op: "dial", Addr: "avr:23", Err: context.DeadlineExceeded}, CodeTimeout, http.StatusGatewayTimeout},
		{"network", &core.NetworkError{Op: "dial", Addr: "avr:23", Err: fmt.Errorf("refused")}, CodeNetwork, http.StatusBadGateway},
		{"bad status", &core.RequestError{URL: "http://avr/", Status: 500}, CodeExternalService, http.StatusBadGateway},
		{"invalid response", core.ErrInvalidResponse, CodeExternalService, http.StatusBadGateway},
		{"not set up", receiver.ErrNotSetup, CodeServiceUnavailable, http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), CodeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			envelope := FromReceiver(ctx, tc.err)
			require.NotNil(t, envelope)
			assert.Equal(t, tc.code, envelope.Code)
			assert.Equal(t, tc.status, StatusFor(envelope))
			assert.NotEmpty(t, envelope.CorrelationID)
		})
	}
}

func TestFromReceiverProcessingWinsOverCause(t *testing.T) {
	err := &core.ProcessingError{
		Zone:       core.ZoneMain,
		Unresolved: []string{"volume"},
		Err:        &core.NetworkError{Op: "fetch", Addr: "avr:80", Err: fmt.Errorf("reset")},
	}

	envelope := FromReceiver(context.Background(), err)
	require.NotNil(t, envelope)
	assert.Equal(t, CodeDataProcessing, envelope.Code)
	assert.Nil(t, FromReceiver(context.Background(), nil))
}

func TestRespondWithErrorWritesEnvelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &core.TimeoutError{Op: "read", Addr: "avr:80", Err: context.DeadlineExceeded})

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeTimeout, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(NewNotFoundError("missing")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(nil))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(Wrap(context.Background(), CodeDatabase, nil, "store")))
}

func TestRespondWithErrorKeepsPrebuiltEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/missing", nil), NewNotFoundError("no such route"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.True(t, strings.HasPrefix(body.Error.RequestID, "fallback-"))
}

func TestRespondWithErrorNil(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProcessingEnvelopeCarriesUnresolved(t *testing.T) {
	envelope := FromReceiver(context.Background(), &core.ProcessingError{
		Zone:       core.Zone2,
		Unresolved: []string{"bass", "treble"},
	})
	assert.Equal(t, "Zone2", envelope.Context["zone"])
	assert.Contains(t, envelope.Context, "unresolved")
	assert.Contains(t, envelope.Context, "wrapped_error")
}
