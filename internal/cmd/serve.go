package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/engine"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/store"
	apperrors "github.com/avrlink/avrlink/internal/errors"
	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
	"github.com/avrlink/avrlink/internal/server"
	"github.com/avrlink/avrlink/internal/server/handlers"
)

var (
	serverPort int
	serverBind string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errors.New("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the receiver client behind an HTTP API",
	Long: `Keep a receiver connection open and expose its state over HTTP.

The realtime channel folds events into state as they arrive, and a refresh
pass runs every refresh.interval to reconcile anything missed.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (logging level only)`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	namespace := config.AppName
	observability.InitServerLoggerFromConfig(config.AppName, cfg.Logging, namespace)
	logger := observability.ServerLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(namespace, cfg.Metrics.Port); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "metrics initialization failed")
		}
		metrics.SetServerStartTime(time.Now().Unix())
	} else {
		logger.Info("Metrics exporter disabled")
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return apperrors.WrapDatabaseError(ctx, err, "store initialization failed")
	}

	journal := newEventJournal(db, cfg.Receiver.Host, observability.Component(logger, "journal"))
	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		journal.Run(context.WithoutCancel(ctx))
	}()

	r, err := newReceiver(cfg, cfg.Realtime.Enabled, clientDeps{logger: logger, store: db, journal: journal})
	if err != nil {
		journal.Close()
		_ = db.Close()
		return err
	}
	restoreRates(ctx, db, logger)

	if err := setupReceiver(ctx, r, 2*cfg.Receiver.Timeout); err != nil {
		// The API still serves /health and retries setup on the next tick.
		logger.Warn("Receiver setup failed", zap.Error(err))
	}
	if cfg.Realtime.Enabled {
		if err := r.Connect(ctx); err != nil {
			logger.Warn("Realtime connect failed, relying on refresh", zap.Error(err))
		} else {
			metrics.SetConnectionHealthy(true)
		}
	}

	bind := serverBind
	if !cmd.Flags().Changed("bind") && cfg.Server.Host != "" {
		bind = cfg.Server.Host
	}
	port := serverPort
	if !cmd.Flags().Changed("port") && cfg.Server.Port != 0 {
		port = cfg.Server.Port
	}

	logger.Info("Initializing server",
		zap.String("service", config.AppName),
		zap.String("version", versionInfo.Version),
		zap.String("receiver", cfg.Receiver.Host),
		zap.String("zone", cfg.Receiver.Zone),
		zap.String("bind", bind),
		zap.Int("port", port),
		zap.Int("metrics_port", metricsPort))

	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.SetObserver(metrics.RecordHealthCheck)
	if cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	hm.RegisterChecker("store", db)
	if cfg.Realtime.Enabled {
		hm.RegisterOptional("realtime", handlers.RealtimeChecker{Receiver: r})
	}
	hm.MarkStarted()

	handlers.SetAppName(config.AppName)
	srv := server.New(bind, port,
		server.WithReceiver(r, db),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		refreshLoop(ctx, r, cfg, logger)
	}()

	// Handlers run in LIFO order.
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Flushing logger...")
		if err := logger.Sync(); err != nil {
			logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
		}
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		closeCtx, cancelClose := context.WithTimeout(ctx, shutdownTimeout)
		defer cancelClose()

		cancel()
		<-refreshDone

		if err := r.Close(closeCtx); err != nil {
			logger.Warn("Receiver close reported an error", zap.Error(err))
		}
		journal.Close()
		select {
		case <-journalDone:
		case <-closeCtx.Done():
		}
		if dropped := journal.Dropped(); dropped > 0 {
			logger.Warn("Events dropped from journal", zap.Uint64("dropped", dropped))
		}
		if err := db.Close(); err != nil {
			return apperrors.WrapDatabaseError(ctx, err, "store close failed")
		}
		logger.Info("Receiver and store closed")
		return nil
	})

	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return apperrors.Wrap(ctx, apperrors.CodeInternal, err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		logger.Info("Received SIGHUP: attempting config reload")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				logger.Info("No config file found - using defaults and environment variables")
				return nil
			}
			logger.Error("Failed to reload config file",
				zap.String("file", viper.ConfigFileUsed()),
				zap.Error(err))
			return apperrors.Wrap(ctx, apperrors.CodeInvalidInput, err, "config reload failed")
		}

		reloaded, err := config.Load(viper.GetViper())
		if err != nil {
			return apperrors.Wrap(ctx, apperrors.CodeInvalidInput, err, "config reload failed")
		}
		// Receiver and listener settings need a restart.
		observability.InitServerLoggerFromConfig(config.AppName, reloaded.Logging, namespace)
		observability.ServerLogger.Info("Configuration reloaded",
			zap.String("file", viper.ConfigFileUsed()),
			zap.String("level", reloaded.Logging.Level))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server...", zap.String("bind", bind), zap.Int("port", port))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		if err := signals.Listen(cmd.Context()); err != nil {
			logger.Error("Signal handler error", zap.Error(err))
			errChan <- err
		}
	}()

	if err := <-errChan; err != nil {
		return apperrors.Wrap(cmd.Context(), apperrors.CodeInternal, err, "server error")
	}
	return nil
}

// refreshLoop reconciles state every interval until ctx ends. A receiver
// that failed setup is retried on each tick.
func refreshLoop(ctx context.Context, r *receiver.Receiver, cfg *config.Config, logger core.Logger) {
	interval := cfg.Refresh.Interval
	if interval <= 0 {
		logger.Info("Periodic refresh disabled")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runRefresh(ctx, r, cfg, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runRefresh(ctx, r, cfg, logger)
		}
	}
}

func runRefresh(ctx context.Context, r *receiver.Receiver, cfg *config.Config, logger core.Logger) {
	if r.Info() == nil {
		if err := setupReceiver(ctx, r, 2*cfg.Receiver.Timeout); err != nil {
			logger.Debug("Receiver still unavailable", zap.Error(err))
			return
		}
	}

	pass := engine.NewRefreshPass()
	result, err := r.RefreshWith(ctx, pass)
	metrics.RecordRefreshPass(cfg.Receiver.Zone, err == nil)
	publishRates(r.Rates())

	switch {
	case err == nil:
		logger.Debug("Refresh pass complete",
			zap.String("pass_id", pass.ID),
			zap.Int("applied", len(result.Applied)),
			zap.Int64("fetches", result.Fetches))
	case core.IsProcessing(err):
		logger.Warn("Refresh pass partially resolved",
			zap.String("pass_id", pass.ID),
			zap.Strings("unresolved", result.Unresolved))
	case ctx.Err() != nil:
	default:
		logger.Warn("Refresh pass failed", zap.String("pass_id", pass.ID), zap.Error(err))
	}
}

// restoreRates logs the rates persisted by the previous run. The limiter
// starts fresh; the history is informational.
func restoreRates(ctx context.Context, db *store.Store, logger core.Logger) {
	snaps, err := db.ListRateSnapshots(ctx, store.RateQuery{All: true})
	if err != nil {
		logger.Warn("Failed to read persisted rates", zap.Error(err))
		return
	}
	for _, snap := range snaps {
		logger.Debug("Persisted limiter rate",
			zap.String("destination", snap.Destination),
			zap.Float64("rate", snap.Rate),
			zap.Float64("latency_avg", snap.LatencyAvg))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverBind, "bind", "localhost", "address the HTTP server listens on")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "HTTP server port")
}
