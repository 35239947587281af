package server

import (
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/observability"
	"github.com/avrlink/avrlink/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	// Health endpoints
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	// Version endpoint
	var device handlers.DeviceInfoSource
	if s.receiver != nil {
		device = s.receiver
	}
	s.router.Get("/version", handlers.Version(device))

	// Metrics endpoint (in server package to access HandleError)
	s.router.Get("/metrics", MetricsHandler)

	if s.receiver != nil {
		s.registerReceiverRoutes()
	}

	// Admin signal endpoint (optional, requires AVRLINK_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

func (s *Server) registerReceiverRoutes() {
	h := handlers.NewReceiverHandler(s.receiver, s.journal)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Get("/info", h.Info)
		r.Get("/rates", h.Rates)
		r.Get("/events", h.Events)
		r.Post("/refresh", h.Refresh)
		r.Post("/commands", h.Commands)
	})
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	envPrefix := config.EnvPrefix + "_"

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	// Create HTTP signal handler with bearer token auth and rate limiting
	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})

	// Register admin endpoint
	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("auth", "bearer token"),
			zap.String("rate_limit", "10/min, burst 5"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
