package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
)

// Recovery turns handler panics into a 500 envelope. The stack trace is
// logged, never returned to the caller.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			requestID := GetRequestID(r.Context())
			endpoint := EndpointPattern(r)
			metrics.RecordPanic(endpoint)

			if logger := observability.ServerLogger; logger != nil {
				logger.Error("Recovered from handler panic",
					zap.String("endpoint", endpoint),
					zap.String("requestID", requestID),
					zap.Any("panic", recovered),
					zap.ByteString("stack", debug.Stack()))
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", "internal server error").
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"endpoint": endpoint,
				"panic":    fmt.Sprint(recovered),
			})
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the JSON body written for recovered panics.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// writeErrorResponse is local because the errors package imports middleware.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	response := ErrorResponse{
		Error: ErrorDetail{
			Code:      envelope.Code,
			Message:   envelope.Message,
			Details:   envelope.Context,
			RequestID: envelope.CorrelationID,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
