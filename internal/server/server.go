package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/avrlink/avrlink/internal/errors"
	"github.com/avrlink/avrlink/internal/observability"
	"github.com/avrlink/avrlink/internal/server/handlers"
	servermw "github.com/avrlink/avrlink/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	host   string
	port   int

	receiver handlers.ReceiverAPI
	journal  handlers.EventJournal

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithReceiver mounts the receiver API under /api/v1. journal may be nil.
func WithReceiver(api handlers.ReceiverAPI, journal handlers.EventJournal) Option {
	return func(s *Server) {
		s.receiver = api
		s.journal = journal
	}
}

// WithTimeouts overrides the HTTP server timeouts. Zero keeps the default.
func WithTimeouts(read, write, idle time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	// Recovery sits inside metrics so a panic is still counted as a 500.
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewNotFoundError("The requested resource was not found")
		HandleError(w, req, err)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		err := apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource")
		HandleError(w, req, err)
	})

	s := &Server{
		router:       r,
		host:         host,
		port:         port,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	handlers.SetErrorResponder(HandleError)

	// Register routes
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
