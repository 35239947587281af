package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/observability"
)

// metricsTransport is swapped in tests.
var metricsTransport http.RoundTripper = &http.Transport{
	ResponseHeaderTimeout: 5 * time.Second,
}

func metricsTarget() (*url.URL, error) {
	fallback := 0
	if cfg := config.GetConfig(); cfg != nil {
		fallback = cfg.Metrics.Port
	}
	return url.Parse(observability.MetricsURL(fallback))
}

// MetricsHandler serves the exporter's /metrics through the API listener so
// a single port can be scraped.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if observability.PrometheusExporter == nil {
		HandleError(w, r, errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "Metrics exporter not initialized"))
		return
	}

	target, err := metricsTarget()
	if err != nil {
		HandleError(w, r, errors.NewErrorEnvelope("INTERNAL_ERROR", "Invalid metrics exporter address"))
		return
	}

	proxy := &httputil.ReverseProxy{
		Transport: metricsTransport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL = target
			pr.Out.Host = target.Host
			pr.Out.Header.Del("Cookie")
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.Header.Get("Content-Type") == "" {
				resp.Header.Set("Content-Type", "text/plain; version=0.0.4")
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if observability.ServerLogger != nil {
				observability.ServerLogger.Warn("Metrics exporter unreachable",
					zap.String("metrics_url", target.String()),
					zap.Error(err))
			}
			envelope, _ := errors.NewErrorEnvelope("EXTERNAL_SERVICE_ERROR", "Prometheus exporter unavailable").
				WithContext(map[string]interface{}{
					"metrics_url": target.String(),
				})
			HandleError(w, r, envelope)
		},
	}
	proxy.ServeHTTP(w, r)
}
