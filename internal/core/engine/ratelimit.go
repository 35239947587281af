package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/avrlink/avrlink/internal/core"
)

// ErrLimiterClosed is returned by Acquire after Close.
var ErrLimiterClosed = errors.New("rate limiter closed")

// LimiterConfig configures the adaptive limiter. Waits are in milliseconds
// between requests; rates derive from them as 1000/wait.
type LimiterConfig struct {
	InitialWaitMS  float64       `mapstructure:"initial_wait_ms" json:"initial_wait_ms"`
	MinWaitMS      float64       `mapstructure:"min_wait_ms" json:"min_wait_ms"`
	MaxWaitMS      float64       `mapstructure:"max_wait_ms" json:"max_wait_ms"`
	K              float64       `mapstructure:"k" json:"k"`
	AdjustInterval time.Duration `mapstructure:"adjust_interval" json:"adjust_interval"`
	Alpha          float64       `mapstructure:"alpha" json:"alpha"`
}

// DefaultLimiterConfig returns conservative defaults for a receiver.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		InitialWaitMS:  100,
		MinWaitMS:      100,
		MaxWaitMS:      200,
		K:              2.0,
		AdjustInterval: 2 * time.Second,
		Alpha:          0.2,
	}
}

// Validate checks every bound eagerly.
func (c LimiterConfig) Validate() error {
	if c.InitialWaitMS <= 0 || c.MinWaitMS <= 0 || c.MaxWaitMS <= 0 {
		return fmt.Errorf("%w: wait values must be > 0", core.ErrInvalidArgument)
	}
	if c.MinWaitMS > c.MaxWaitMS {
		return fmt.Errorf("%w: min_wait_ms must be <= max_wait_ms", core.ErrInvalidArgument)
	}
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be > 0", core.ErrInvalidArgument)
	}
	if c.AdjustInterval <= 0 {
		return fmt.Errorf("%w: adjust_interval must be > 0", core.ErrInvalidArgument)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in (0, 1]", core.ErrInvalidArgument)
	}
	return nil
}

// InitialRate is the starting rate in requests per second.
func (c LimiterConfig) InitialRate() float64 { return 1000 / c.InitialWaitMS }

// MinRate corresponds to the maximum wait.
func (c LimiterConfig) MinRate() float64 { return 1000 / c.MaxWaitMS }

// MaxRate corresponds to the minimum wait.
func (c LimiterConfig) MaxRate() float64 { return 1000 / c.MinWaitMS }

// TargetRate returns clamp(k/avg, MinRate, MaxRate), or the initial rate when
// no latency has been observed.
func (c LimiterConfig) TargetRate(avgSeconds float64) float64 {
	if avgSeconds <= 0 {
		return c.InitialRate()
	}
	return math.Max(c.MinRate(), math.Min(c.MaxRate(), c.K/avgSeconds))
}

func newBucket(r float64) *rate.Limiter {
	burst := int(math.Ceil(r))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r), burst)
}

// destination is the per-key state. The bucket is replaced, never
// reconfigured, and only while holding mu.
type destination struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	retuned time.Time

	latency *EWMALatency
}

func (d *destination) current() *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bucket
}

// DestinationStats is a point-in-time view of one destination.
type DestinationStats = core.RateSnapshot

// LimiterOption configures an AdaptiveLimiter.
type LimiterOption func(*AdaptiveLimiter)

// WithLimiterLogger sets the limiter logger.
func WithLimiterLogger(logger core.Logger) LimiterOption {
	return func(l *AdaptiveLimiter) {
		if logger != nil {
			l.log = logger
		}
	}
}

// WithRetuneHook is called after every retune with the new rate.
func WithRetuneHook(hook func(destination string, rate float64)) LimiterOption {
	return func(l *AdaptiveLimiter) { l.onRetune = hook }
}

// AdaptiveLimiter keeps one token bucket and one latency estimate per
// destination and periodically retunes each bucket from observed latency.
type AdaptiveLimiter struct {
	cfg      LimiterConfig
	log      core.Logger
	onRetune func(destination string, rate float64)

	// mu is the init lock for dests; readers take the fast path.
	mu     sync.RWMutex
	dests  map[string]*destination
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	adjusterStarts atomic.Int64
}

// NewAdaptiveLimiter validates cfg and returns a limiter with no destinations.
func NewAdaptiveLimiter(cfg LimiterConfig, opts ...LimiterOption) (*AdaptiveLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &AdaptiveLimiter{
		cfg:    cfg,
		log:    core.NopLogger(),
		dests:  make(map[string]*destination),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire blocks until the destination's current bucket grants a token or
// ctx is done. The destination is created on first use.
func (l *AdaptiveLimiter) Acquire(ctx context.Context, dest string) error {
	d, err := l.ensure(dest)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return d.current().Wait(ctx)
}

func (l *AdaptiveLimiter) ensure(dest string) (*destination, error) {
	l.mu.RLock()
	d, ok := l.dests[dest]
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return nil, ErrLimiterClosed
	}
	if ok {
		return d, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLimiterClosed
	}
	if d, ok := l.dests[dest]; ok {
		return d, nil
	}
	d = &destination{
		bucket:  newBucket(l.cfg.InitialRate()),
		retuned: time.Now().UTC(),
		latency: NewEWMALatency(l.cfg.Alpha),
	}
	l.dests[dest] = d
	l.wg.Add(1)
	l.adjusterStarts.Add(1)
	go l.adjust(dest, d)
	l.log.Debug("Rate limiter destination created",
		zap.String("destination", dest), zap.Float64("rate", l.cfg.InitialRate()))
	return d, nil
}

func (l *AdaptiveLimiter) adjust(dest string, d *destination) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.AdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
		}

		target := l.cfg.TargetRate(d.latency.Value())
		d.mu.Lock()
		previous := float64(d.bucket.Limit())
		d.bucket = newBucket(target)
		d.retuned = time.Now().UTC()
		d.mu.Unlock()

		if previous != target {
			l.log.Debug("Rate limiter retuned",
				zap.String("destination", dest),
				zap.Float64("previous", previous),
				zap.Float64("rate", target))
		}
		if l.onRetune != nil {
			l.onRetune(dest, target)
		}
	}
}

// RecordLatency feeds time.Since(start) into the destination's estimate.
// Unknown destinations are ignored. Fire-and-forget sends must not be
// recorded since they have no reply.
func (l *AdaptiveLimiter) RecordLatency(dest string, start time.Time) {
	l.ObserveLatency(dest, time.Since(start))
}

// ObserveLatency records an already measured round trip.
func (l *AdaptiveLimiter) ObserveLatency(dest string, rtt time.Duration) {
	l.mu.RLock()
	d, ok := l.dests[dest]
	l.mu.RUnlock()
	if !ok {
		return
	}
	if _, err := d.latency.Update(rtt.Seconds()); err != nil {
		l.log.Warn("Discarding latency sample", zap.String("destination", dest), zap.Error(err))
	}
}

// Rate returns the destination's current rate in requests per second.
func (l *AdaptiveLimiter) Rate(dest string) (float64, bool) {
	l.mu.RLock()
	d, ok := l.dests[dest]
	l.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return float64(d.current().Limit()), true
}

// Snapshot returns stats for every destination, sorted by key.
func (l *AdaptiveLimiter) Snapshot() []DestinationStats {
	l.mu.RLock()
	keys := make([]string, 0, len(l.dests))
	for k := range l.dests {
		keys = append(keys, k)
	}
	dests := make(map[string]*destination, len(l.dests))
	for k, d := range l.dests {
		dests[k] = d
	}
	l.mu.RUnlock()

	sort.Strings(keys)
	out := make([]DestinationStats, 0, len(keys))
	for _, k := range keys {
		d := dests[k]
		d.mu.Lock()
		r := float64(d.bucket.Limit())
		updated := d.retuned
		d.mu.Unlock()
		out = append(out, DestinationStats{
			Destination: k,
			Rate:        r,
			LatencyAvg:  d.latency.Value(),
			Samples:     d.latency.Samples(),
			UpdatedAt:   updated,
		})
	}
	return out
}

// Close stops every adjuster and waits for them to exit. Later Acquire calls
// fail with ErrLimiterClosed.
func (l *AdaptiveLimiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
}
