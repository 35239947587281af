package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
	"github.com/avrlink/avrlink/internal/server/middleware"
)

// HTTPErrorDetail captures the error body returned to callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError classifies err with FromReceiver and writes the envelope
// as JSON. It also logs the failure and counts it per endpoint.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil {
		return
	}

	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	envelope := FromReceiver(ctx, err)
	if envelope == nil {
		envelope = errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
	}
	if envelope.CorrelationID == "" {
		id := middleware.GetRequestID(ctx)
		if id == "" {
			id = "fallback-" + errors.GenerateCorrelationID()
		}
		envelope = envelope.WithCorrelationID(id)
	}

	status := StatusFor(envelope)
	endpoint := "/unknown"
	if r != nil {
		endpoint = middleware.EndpointPattern(r)
	}
	logError(envelope, status, endpoint)
	metrics.RecordAPIError(endpoint, envelope.Code, status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{
		Error: HTTPErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   responseDetails(envelope),
			RequestID: envelope.CorrelationID,
		},
	})
}

// responseDetails merges envelope details over its context.
func responseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if len(envelope.Details) == 0 && len(envelope.Context) == 0 {
		return nil
	}
	details := make(map[string]interface{}, len(envelope.Details)+len(envelope.Context))
	for k, v := range envelope.Context {
		details[k] = v
	}
	for k, v := range envelope.Details {
		details[k] = v
	}
	return details
}

// logError logs server-side failures at error and caller mistakes at info.
// An explicit envelope severity wins.
func logError(envelope *errors.ErrorEnvelope, status int, endpoint string) {
	logger := observability.ServerLogger
	if logger == nil {
		return
	}

	fields := make([]zap.Field, 0, len(envelope.Context)+5)
	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("endpoint", endpoint),
		zap.String("request_id", envelope.CorrelationID))
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for k, v := range envelope.Context {
		fields = append(fields, zap.Any(k, v))
	}

	switch {
	case envelope.Severity == errors.SeverityCritical || envelope.Severity == errors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case envelope.Severity == errors.SeverityMedium, status >= http.StatusInternalServerError:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
