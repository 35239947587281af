package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

// DefaultMetricsPort is assumed when the exporter address cannot be read back.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem is nil until InitMetrics succeeds; every recorder in
	// internal/metrics checks it.
	TelemetrySystem *telemetry.System

	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on port (0 picks a free port)
// and routes telemetry through it. Metric names are prefixed with namespace.
func InitMetrics(namespace string, port int) error {
	if port < 0 {
		port = 0
	}

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter on :%d: %w", port, err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	switch bound, err := resolvePort(exporter.GetAddr()); {
	case err == nil:
		metricsPort = bound
	case port != 0:
		metricsPort = port
	default:
		metricsPort = DefaultMetricsPort
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the exporter's bound port, or 0 before InitMetrics.
func GetMetricsPort() int {
	return metricsPort
}

// MetricsURL is the loopback scrape address of the running exporter.
func MetricsURL(fallbackPort int) string {
	port := metricsPort
	if port == 0 {
		port = fallbackPort
	}
	if port == 0 {
		port = DefaultMetricsPort
	}
	return fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
