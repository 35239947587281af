package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/observability"
)

var knownPaths = map[string]string{
	"/health":          "/health/*",
	"/health/live":     "/health/*",
	"/health/ready":    "/health/*",
	"/health/startup":  "/health/*",
	"/version":         "/version",
	"/metrics":         "/metrics",
	"/admin/signal":    "/admin/signal",
	"/api/v1/state":    "/api/v1/state",
	"/api/v1/info":     "/api/v1/info",
	"/api/v1/rates":    "/api/v1/rates",
	"/api/v1/refresh":  "/api/v1/refresh",
	"/api/v1/commands": "/api/v1/commands",
	"/api/v1/events":   "/api/v1/events",
	"/":                "/",
}

// EndpointPattern returns the chi route pattern for r, or a fixed bucket
// for unmatched paths so metric labels stay low-cardinality.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if pattern, ok := knownPaths[r.URL.Path]; ok {
		return pattern
	}
	return "/unknown"
}

// quietEndpoint reports probe and scrape traffic, which is logged at debug.
func quietEndpoint(endpoint string) bool {
	return endpoint == "/metrics" || strings.HasPrefix(endpoint, "/health")
}

// RequestMetrics middleware captures HTTP request metrics following Prometheus standards
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		endpoint := EndpointPattern(r)
		requestSize := max(r.ContentLength, 0)
		responseSize := int64(ww.BytesWritten())

		labels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
			"status":   strconv.Itoa(status),
		}
		sizeLabels := map[string]string{
			"method":   r.Method,
			"endpoint": endpoint,
		}

		tel := observability.TelemetrySystem
		_ = tel.Counter("http_requests_total", 1, labels)
		_ = tel.Histogram("http_request_duration_ms", duration, labels)
		_ = tel.Gauge("http_request_size_bytes", float64(requestSize), sizeLabels)
		_ = tel.Gauge("http_response_size_bytes", float64(responseSize), sizeLabels)

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			_ = tel.Counter("http_errors_total", 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     strconv.Itoa(status),
				"error_type": errorType,
			})
		}

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		log := logger.Info
		if quietEndpoint(endpoint) && status < 400 {
			log = logger.Debug
		}
		log("HTTP request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.Int64("request_size", requestSize),
			zap.Int64("response_size", responseSize),
			zap.String("requestID", GetRequestID(r.Context())),
		)
	})
}
