package metrics

import (
	"strconv"
	"time"

	"github.com/avrlink/avrlink/internal/observability"
)

// Receiver metrics following Prometheus conventions
var (
	// Realtime channel
	EventsTotal         = "avr_events_total"
	CallbackPanicsTotal = "avr_callback_panics_total"
	ReconnectsTotal     = "avr_reconnects_total"
	ConnectionHealthy   = "avr_connection_healthy"

	// Commands and document fetches
	CommandsTotal      = "avr_commands_total"
	FetchesTotal       = "avr_fetches_total"
	FetchDuration      = "avr_fetch_duration_ms"
	UnresolvedTotal    = "avr_unresolved_attributes_total"
	RefreshPassesTotal = "avr_refresh_passes_total"

	// Adaptive limiter
	LimiterRate    = "avr_limiter_rate"
	LimiterLatency = "avr_limiter_latency_avg_seconds"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"

	// API error envelopes and recovered handler panics
	APIErrorsTotal = "app_api_errors_total"
	PanicsTotal    = "app_panics_total"
)

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordEvent counts one decoded realtime event.
func RecordEvent(zone, code string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(EventsTotal, 1, map[string]string{
			"zone": zone,
			"code": code,
		})
	}
}

// RecordCallbackPanic counts a recovered subscriber panic.
func RecordCallbackPanic(code string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(CallbackPanicsTotal, 1, map[string]string{
			"code": code,
		})
	}
}

// RecordReconnect counts a reconnect attempt and its outcome.
func RecordReconnect(success bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ReconnectsTotal, 1, map[string]string{
			"status": status(success),
		})
	}
}

// SetConnectionHealthy publishes the realtime channel health as 0 or 1.
func SetConnectionHealthy(healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ConnectionHealthy, value, nil)
	}
}

// RecordCommand counts a command sent over channel ("telnet" or "http").
func RecordCommand(channel string, success bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(CommandsTotal, 1, map[string]string{
			"channel": channel,
			"status":  status(success),
		})
	}
}

// RecordFetch records a document fetch against endpoint.
func RecordFetch(endpoint string, success bool, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		labels := map[string]string{
			"endpoint": endpoint,
			"status":   status(success),
		}
		_ = observability.TelemetrySystem.Counter(FetchesTotal, 1, labels)
		_ = observability.TelemetrySystem.Histogram(FetchDuration, duration, map[string]string{
			"endpoint": endpoint,
		})
	}
}

// RecordRefreshPass counts a completed refresh pass.
func RecordRefreshPass(zone string, success bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RefreshPassesTotal, 1, map[string]string{
			"zone":   zone,
			"status": status(success),
		})
	}
}

// RecordUnresolved counts attributes a refresh pass could not resolve.
func RecordUnresolved(zone string, count int) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(UnresolvedTotal, float64(count), map[string]string{
			"zone": zone,
		})
	}
}

// SetLimiterRate publishes a retuned adaptive rate.
func SetLimiterRate(destination string, rate float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(LimiterRate, rate, map[string]string{
			"destination": destination,
		})
	}
}

// SetLimiterLatency publishes the smoothed latency of a destination.
func SetLimiterLatency(destination string, seconds float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(LimiterLatency, seconds, map[string]string{
			"destination": destination,
		})
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	state := "healthy"
	if !healthy {
		state = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": state,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// RecordAPIError counts one error envelope written by the HTTP API. endpoint
// must be a route pattern, never a raw path.
func RecordAPIError(endpoint, errorCode string, httpStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(APIErrorsTotal, 1, map[string]string{
			"endpoint":    endpoint,
			"error_code":  errorCode,
			"http_status": strconv.Itoa(httpStatus),
		})
	}
}

func RecordPanic(endpoint string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, map[string]string{
			"endpoint": endpoint,
		})
	}
}
