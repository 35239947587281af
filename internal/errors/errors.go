// Package errors adapts client and store failures to the HTTP error envelope.
package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/server/middleware"
)

// Error codes used by the HTTP API.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeNetwork            = "NETWORK_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeDataProcessing     = "DATA_PROCESSING_ERROR"
)

// codeStatus maps envelope codes to HTTP status. Unlisted codes are 500.
var codeStatus = map[string]int{
	CodeInvalidInput:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeForbidden:          http.StatusForbidden,
	CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeExternalService:    http.StatusBadGateway,
	CodeNetwork:            http.StatusBadGateway,
	CodeDataProcessing:     http.StatusBadGateway,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
}

// StatusFor returns the HTTP status for envelope, 500 when nil or unknown.
func StatusFor(envelope *errors.ErrorEnvelope) int {
	if envelope == nil {
		return http.StatusInternalServerError
	}
	if status, ok := codeStatus[envelope.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

// Wrap builds an envelope for err carrying the request's correlation ID.
// The correlation ID doubles as trace ID since no tracer is wired.
func Wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := correlationID(ctx)
	envelope := errors.NewErrorEnvelope(code, message).
		WithCorrelationID(id).
		WithTraceID(id)
	if err != nil {
		envelope = withContext(envelope, map[string]interface{}{"wrapped_error": err.Error()})
	}
	return envelope
}

// WrapDatabaseError wraps a store failure.
func WrapDatabaseError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return Wrap(ctx, CodeDatabase, err, message)
}

// classification maps a sentinel or typed failure to a code and message.
// Order matters: a ProcessingError wraps its network cause.
var classification = []struct {
	match   func(error) bool
	code    string
	message string
}{
	{func(err error) bool { return stderrors.Is(err, core.ErrInvalidArgument) }, CodeInvalidInput, "invalid request"},
	{func(err error) bool { return stderrors.Is(err, core.ErrForbidden) }, CodeForbidden, "receiver refused the request"},
	{core.IsTimeout, CodeTimeout, "receiver did not respond in time"},
	{core.IsNetwork, CodeNetwork, "receiver is unreachable"},
	{func(err error) bool {
		var request *core.RequestError
		return stderrors.As(err, &request) || stderrors.Is(err, core.ErrInvalidResponse)
	}, CodeExternalService, "receiver returned an unusable response"},
	{func(err error) bool { return stderrors.Is(err, receiver.ErrNotSetup) }, CodeServiceUnavailable, "receiver is not set up"},
}

// FromReceiver classifies an error returned by the receiver client and wraps
// it in an envelope. Unresolved attributes are reported in the context.
func FromReceiver(ctx context.Context, err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	var processing *core.ProcessingError
	if stderrors.As(err, &processing) {
		envelope := Wrap(ctx, CodeDataProcessing, err, "some attributes could not be resolved")
		return withContext(envelope, map[string]interface{}{
			"zone":       string(processing.Zone),
			"unresolved": processing.Unresolved,
		})
	}
	for _, c := range classification {
		if c.match(err) {
			return Wrap(ctx, c.code, err, c.message)
		}
	}
	return Wrap(ctx, CodeInternal, err, "unexpected error")
}

// correlationID prefers the request ID so logs and responses line up.
func correlationID(ctx context.Context) string {
	if ctx != nil {
		if id := middleware.GetRequestID(ctx); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

// withContext merges fields into the envelope context, keeping the original
// envelope if gofulmen rejects them.
func withContext(envelope *errors.ErrorEnvelope, fields map[string]interface{}) *errors.ErrorEnvelope {
	merged := make(map[string]interface{}, len(envelope.Context)+len(fields))
	for k, v := range envelope.Context {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	updated, err := envelope.WithContext(merged)
	if err != nil {
		return envelope
	}
	return updated
}
