package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/config"
	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/engine"
	"github.com/avrlink/avrlink/internal/core/fetcher"
	"github.com/avrlink/avrlink/internal/core/receiver"
	"github.com/avrlink/avrlink/internal/core/store"
	"github.com/avrlink/avrlink/internal/core/telnet"
	"github.com/avrlink/avrlink/internal/metrics"
	"github.com/avrlink/avrlink/internal/observability"
)

// clientDeps are the optional collaborators wired into a receiver.
type clientDeps struct {
	logger  core.Logger
	store   *store.Store
	journal *eventJournal
}

// receiverConfig translates application config into a client config.
func receiverConfig(cfg *config.Config, realtime bool) (receiver.Config, error) {
	if err := cfg.RequireHost(); err != nil {
		return receiver.Config{}, err
	}

	prefer, err := cfg.Receiver.PreferStructuredOverride()
	if err != nil {
		return receiver.Config{}, err
	}

	rules := core.DefaultRules()
	if path := strings.TrimSpace(cfg.Refresh.RulesFile); path != "" {
		extra, err := core.LoadRules(path)
		if err != nil {
			return receiver.Config{}, err
		}
		rules = core.MergeRules(rules, extra)
	}

	return receiver.Config{
		Host:             cfg.Receiver.Host,
		Zone:             core.Zone(cfg.Receiver.Zone),
		HTTPPort:         cfg.Receiver.HTTPPort,
		Timeout:          cfg.Receiver.Timeout,
		PreferStructured: prefer,
		Realtime:         realtime,
		RealtimePort:     cfg.Realtime.Port,
		ConnectTimeout:   cfg.Realtime.ConnectTimeout,
		BackoffInitial:   cfg.Realtime.BackoffInitial,
		BackoffMax:       cfg.Realtime.BackoffMax,
		Limiter:          cfg.Limiter,
		Rules:            rules,
	}, nil
}

// newReceiver builds a receiver with metrics, journaling and rate
// persistence wired in.
func newReceiver(cfg *config.Config, realtime bool, deps clientDeps) (*receiver.Receiver, error) {
	rcfg, err := receiverConfig(cfg, realtime)
	if err != nil {
		return nil, err
	}

	logger := observability.Component(deps.logger, "receiver",
		zap.String("host", rcfg.Host),
		zap.String("zone", string(rcfg.Zone)))

	journal := deps.journal
	hooks := telnet.Hooks{
		OnEvent: func(ev core.Event) {
			metrics.RecordEvent(string(ev.Zone), ev.Code)
			if journal != nil {
				journal.Record(ev)
			}
		},
		OnCallbackPanic: metrics.RecordCallbackPanic,
		OnReconnect: func(success bool) {
			metrics.RecordReconnect(success)
			metrics.SetConnectionHealthy(success)
		},
		OnCommand: func(sent bool) { metrics.RecordCommand("telnet", sent) },
	}

	opts := []receiver.Option{
		receiver.WithLogger(logger),
		receiver.WithTelnetOptions(telnet.WithHooks(hooks)),
		receiver.WithLimiterOptions(engine.WithRetuneHook(metrics.SetLimiterRate)),
		receiver.WithFetchObserver(observeFetch),
		receiver.WithUnresolvedObserver(func(zone core.Zone, attributes []string) {
			metrics.RecordUnresolved(string(zone), len(attributes))
		}),
	}
	if deps.store != nil {
		opts = append(opts, receiver.WithRateSink(deps.store.SaveRateSnapshots))
	}

	return receiver.New(rcfg, opts...)
}

func observeFetch(endpoint string, status int, elapsed time.Duration) {
	ok := status >= 200 && status < 300
	if endpoint == fetcher.CommandPath {
		metrics.RecordCommand("http", ok)
		return
	}
	metrics.RecordFetch(endpoint, ok, elapsed)
}

// setupReceiver identifies the device, bounded by timeout.
func setupReceiver(ctx context.Context, r *receiver.Receiver, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	setupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.Setup(setupCtx); err != nil {
		return fmt.Errorf("setup receiver: %w", err)
	}
	return nil
}

// publishRates exports the limiter's smoothed latencies.
func publishRates(rates []core.RateSnapshot) {
	for _, snap := range rates {
		metrics.SetLimiterRate(snap.Destination, snap.Rate)
		metrics.SetLimiterLatency(snap.Destination, snap.LatencyAvg)
	}
}
