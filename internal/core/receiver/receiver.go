// Package receiver ties the realtime channel, the document-fetch channel and
// the zone state of one receiver together.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/engine"
	"github.com/avrlink/avrlink/internal/core/fetcher"
	"github.com/avrlink/avrlink/internal/core/state"
	"github.com/avrlink/avrlink/internal/core/telnet"
)

// ErrNotSetup is returned by Refresh before Setup succeeded.
var ErrNotSetup = errors.New("receiver is not set up")

// stateCodes are the realtime events folded into zone state.
var stateCodes = []string{"PW", "ZM", "MV", "MU", "SI", "MS", "PS", "NS"}

// Config describes one receiver zone.
type Config struct {
	Host string
	Zone core.Zone

	// HTTPPort pins the document port. Zero probes 80 and then 8080.
	HTTPPort int
	Timeout  time.Duration

	// PreferStructured overrides capability detection when set.
	PreferStructured *bool

	Realtime       bool
	RealtimePort   int
	ConnectTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	Limiter engine.LimiterConfig

	// Rules extend or replace the built-in attribute catalogue.
	Rules []core.AttributeRule
}

// RefreshResult summarizes one reconciliation pass.
type RefreshResult struct {
	PassID     string   `json:"pass_id"`
	Zone       string   `json:"zone"`
	Applied    []string `json:"applied"`
	Unresolved []string `json:"unresolved,omitempty"`
	Fetches    int64    `json:"fetches"`
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithLogger sets the logger shared by every component.
func WithLogger(logger core.Logger) Option {
	return func(r *Receiver) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithHTTPClient replaces the HTTP client used for documents.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Receiver) { r.httpClient = client }
}

// WithTelnetOptions passes options through to the realtime transport.
func WithTelnetOptions(opts ...telnet.Option) Option {
	return func(r *Receiver) { r.telnetOpts = append(r.telnetOpts, opts...) }
}

// WithLimiterOptions passes options through to the adaptive limiter.
func WithLimiterOptions(opts ...engine.LimiterOption) Option {
	return func(r *Receiver) { r.limiterOpts = append(r.limiterOpts, opts...) }
}

// WithFetchObserver is called after every document request.
func WithFetchObserver(fn func(endpoint string, status int, elapsed time.Duration)) Option {
	return func(r *Receiver) { r.onFetch = fn }
}

// WithRateSink receives the limiter snapshot when the receiver closes.
func WithRateSink(fn func(ctx context.Context, rates []core.RateSnapshot) error) Option {
	return func(r *Receiver) { r.rateSink = fn }
}

// WithUnresolvedObserver is called when a refresh leaves attributes unresolved.
func WithUnresolvedObserver(fn func(zone core.Zone, attributes []string)) Option {
	return func(r *Receiver) { r.onUnresolved = fn }
}

// Receiver is the client for one zone of one device.
type Receiver struct {
	cfg Config
	log core.Logger

	httpClient   *http.Client
	telnetOpts   []telnet.Option
	limiterOpts  []engine.LimiterOption
	onFetch      func(endpoint string, status int, elapsed time.Duration)
	rateSink     func(ctx context.Context, rates []core.RateSnapshot) error
	onUnresolved func(zone core.Zone, attributes []string)

	limiter   *engine.AdaptiveLimiter
	documents *fetcher.Client
	realtime  *telnet.Transport
	zone      *state.Zone
	rules     []core.AttributeRule

	mu         sync.RWMutex
	info       *fetcher.DeviceInfo
	reconciler *engine.Reconciler
	subs       []telnet.Subscription

	closeOnce sync.Once
}

// New builds an unconnected receiver.
func New(cfg Config, opts ...Option) (*Receiver, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: receiver host is required", core.ErrInvalidArgument)
	}
	if cfg.Zone == "" {
		cfg.Zone = core.ZoneMain
	}
	if _, err := core.ParseZone(string(cfg.Zone)); err != nil {
		return nil, err
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = core.DefaultRules()
	}
	for _, rule := range rules {
		if err := core.ValidateRule(rule); err != nil {
			return nil, err
		}
	}

	r := &Receiver{
		cfg:   cfg,
		log:   core.NopLogger(),
		zone:  state.NewZone(cfg.Zone),
		rules: rules,
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.Limiter == (engine.LimiterConfig{}) {
		cfg.Limiter = engine.DefaultLimiterConfig()
		r.cfg.Limiter = cfg.Limiter
	}
	limiter, err := engine.NewAdaptiveLimiter(cfg.Limiter, append([]engine.LimiterOption{engine.WithLimiterLogger(r.log)}, r.limiterOpts...)...)
	if err != nil {
		return nil, err
	}
	r.limiter = limiter

	documents := fetcher.New(cfg.Host, cfg.HTTPPort)
	documents.Client = r.httpClient
	documents.Limiter = limiter
	documents.Logger = r.log
	documents.Timeout = cfg.Timeout
	documents.OnFetch = r.onFetch
	if cfg.HTTPPort > 0 {
		documents.ProbePorts = []int{cfg.HTTPPort}
	}
	r.documents = documents

	if cfg.Realtime {
		transport, err := telnet.NewTransport(telnet.Config{
			Host:           cfg.Host,
			Port:           cfg.RealtimePort,
			ConnectTimeout: cfg.ConnectTimeout,
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
		}, append([]telnet.Option{telnet.WithLogger(r.log), telnet.WithLimiter(limiter)}, r.telnetOpts...)...)
		if err != nil {
			limiter.Close()
			return nil, err
		}
		r.realtime = transport
	}
	return r, nil
}

// Setup identifies the device and prepares reconciliation. It may be called
// again to re-detect capabilities.
func (r *Receiver) Setup(ctx context.Context) error {
	info, err := r.documents.Identify(ctx)
	if err != nil {
		return err
	}
	if r.cfg.PreferStructured != nil {
		info.PreferStructured = *r.cfg.PreferStructured
	}

	reconciler, err := engine.NewReconciler(engine.ReconcilerConfig{
		Source:           r.documents,
		Zone:             r.cfg.Zone,
		PreferStructured: info.PreferStructured,
		LegacyEndpoints:  fetcher.LegacyEndpoints(r.cfg.Zone),
		Catalogue:        r.rules,
		Setters:          r.zone.Setters(r.rules),
		Logger:           r.log,
	})
	if err != nil {
		return err
	}

	r.zone.SetFriendlyName(info.FriendlyName)

	r.mu.Lock()
	r.info = info
	r.reconciler = reconciler
	r.mu.Unlock()

	r.log.Info("Receiver identified",
		zap.String("host", r.cfg.Host),
		zap.String("zone", string(r.cfg.Zone)),
		zap.String("type", string(info.Type)),
		zap.Int("port", info.Port),
		zap.String("friendly_name", info.FriendlyName),
		zap.Bool("prefer_structured", info.PreferStructured))
	return nil
}

// Refresh runs one reconciliation pass over every attribute. Resolved
// attributes are applied even when the error is a ProcessingError.
func (r *Receiver) Refresh(ctx context.Context) (*RefreshResult, error) {
	return r.RefreshWith(ctx, engine.NewRefreshPass())
}

// RefreshWith runs a pass that shares pass with other callers.
func (r *Receiver) RefreshWith(ctx context.Context, pass *engine.RefreshPass) (*RefreshResult, error) {
	r.mu.RLock()
	reconciler := r.reconciler
	r.mu.RUnlock()
	if reconciler == nil {
		return nil, ErrNotSetup
	}

	applied, unresolved, err := reconciler.ResolveAll(ctx, pass)
	result := &RefreshResult{
		Zone:       string(r.cfg.Zone),
		Applied:    applied,
		Unresolved: unresolved,
	}
	if pass != nil {
		result.PassID = pass.ID
		result.Fetches = pass.Fetches()
	}
	if len(unresolved) > 0 && r.onUnresolved != nil {
		r.onUnresolved(r.cfg.Zone, unresolved)
	}
	return result, err
}

// Connect opens the realtime channel and starts folding its events into the
// zone state.
func (r *Receiver) Connect(ctx context.Context) error {
	if r.realtime == nil {
		return fmt.Errorf("%w: realtime channel disabled", core.ErrInvalidArgument)
	}

	r.mu.Lock()
	if len(r.subs) == 0 {
		for _, code := range stateCodes {
			sub, err := r.realtime.RegisterCallback(code, r.onEvent)
			if err != nil {
				r.mu.Unlock()
				return err
			}
			r.subs = append(r.subs, sub)
		}
	}
	r.mu.Unlock()

	return r.realtime.Connect(ctx)
}

func (r *Receiver) onEvent(zone core.Zone, code, parameter string) {
	r.zone.ApplyEvent(core.Event{Zone: zone, Code: code, Parameter: parameter, At: time.Now().UTC()})
}

// RegisterCallback subscribes to realtime events.
func (r *Receiver) RegisterCallback(code string, cb telnet.Callback) (telnet.Subscription, error) {
	if r.realtime == nil {
		return telnet.Subscription{}, fmt.Errorf("%w: realtime channel disabled", core.ErrInvalidArgument)
	}
	return r.realtime.RegisterCallback(code, cb)
}

// SendCommand sends cmd over the realtime channel when it is healthy and
// over HTTP otherwise.
func (r *Receiver) SendCommand(ctx context.Context, cmd string) error {
	if r.realtime != nil && r.realtime.Healthy() {
		if r.realtime.SendCommand(ctx, cmd) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.log.Debug("Realtime send failed, falling back to HTTP", zap.String("command", cmd))
	}
	return r.documents.SendCommand(ctx, cmd)
}

// SendCommandsNoWait fires cmds on the realtime channel without waiting for
// the limiter. It reports false when the channel is down.
func (r *Receiver) SendCommandsNoWait(cmds ...string) bool {
	if r.realtime == nil || !r.realtime.Healthy() {
		return false
	}
	r.realtime.SendCommandsNoWait(cmds...)
	return true
}

// State returns the current zone state.
func (r *Receiver) State() state.Snapshot {
	return r.zone.Snapshot()
}

// Info returns the identification result, nil before Setup.
func (r *Receiver) Info() *fetcher.DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.info == nil {
		return nil
	}
	info := *r.info
	return &info
}

// Healthy reports whether the realtime channel is up.
func (r *Receiver) Healthy() bool {
	return r.realtime != nil && r.realtime.Healthy()
}

// Reconnects counts successful realtime reconnects.
func (r *Receiver) Reconnects() uint64 {
	if r.realtime == nil {
		return 0
	}
	return r.realtime.Reconnects()
}

// Rates returns the adaptive limiter state per destination.
func (r *Receiver) Rates() []core.RateSnapshot {
	return r.limiter.Snapshot()
}

// Rules returns the attribute catalogue in use.
func (r *Receiver) Rules() []core.AttributeRule {
	out := make([]core.AttributeRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Close disconnects, stops the limiter and hands its final state to the
// rate sink. It is safe to call more than once.
func (r *Receiver) Close(ctx context.Context) error {
	var err error
	r.closeOnce.Do(func() {
		if r.realtime != nil {
			r.realtime.Disconnect()
		}
		rates := r.limiter.Snapshot()
		r.limiter.Close()
		if r.rateSink != nil && len(rates) > 0 {
			if sinkErr := r.rateSink(ctx, rates); sinkErr != nil {
				r.log.Warn("Failed to persist rate snapshots", zap.Error(sinkErr))
				err = sinkErr
			}
		}
	})
	return err
}
