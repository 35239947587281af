package telnet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
)

const (
	// DefaultPort is the receiver's realtime channel port.
	DefaultPort = 23

	// IdleTimeout bounds how long the read loop waits for any byte before the
	// connection is considered dead.
	IdleTimeout = 30 * time.Second

	readChunkSize  = 1024
	writeTimeout   = 5 * time.Second
	defaultTimeout = 2 * time.Second
)

// Config describes one realtime connection.
type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Limiter throttles outbound commands per destination.
type Limiter interface {
	Acquire(ctx context.Context, destination string) error
}

// Hooks receive transport lifecycle notifications, typically for metrics.
// Any field may be nil.
type Hooks struct {
	OnEvent         func(ev core.Event)
	OnCallbackPanic func(code string)
	OnReconnect     func(success bool)
	OnCommand       func(sent bool)
}

// DialFunc opens the underlying socket.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger core.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.log = logger
		}
	}
}

// WithLimiter routes SendCommand through an adaptive rate limiter.
func WithLimiter(l Limiter) Option {
	return func(t *Transport) { t.limiter = l }
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(t *Transport) { t.hooks = h }
}

// WithDialer replaces the socket dialer.
func WithDialer(dial DialFunc) Option {
	return func(t *Transport) {
		if dial != nil {
			t.dial = dial
		}
	}
}

// WithSleep replaces the backoff wait.
func WithSleep(sleep SleepFunc) Option {
	return func(t *Transport) {
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// session is one logical connection lifetime, from Connect to Disconnect.
// Its socket is replaced on every reconnect.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	conn   net.Conn

	// dispatching is set while the loop runs callbacks, so a Disconnect
	// issued from a callback does not wait on its own goroutine.
	dispatching atomic.Bool
}

// Transport owns the realtime channel connection, its read loop and the
// reconnect state machine.
type Transport struct {
	cfg         Config
	addr        string
	idleTimeout time.Duration

	log      core.Logger
	limiter  Limiter
	hooks    Hooks
	dial     DialFunc
	sleep    SleepFunc
	registry *Registry

	// mu guards session and every change of healthy.
	mu      sync.Mutex
	session *session
	healthy atomic.Bool
	writeMu sync.Mutex

	reconnects atomic.Uint64
}

// NewTransport builds an unconnected transport.
func NewTransport(cfg Config, opts ...Option) (*Transport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: realtime host is required", core.ErrInvalidArgument)
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultTimeout
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}

	dialer := &net.Dialer{}
	t := &Transport{
		cfg:         cfg,
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		idleTimeout: IdleTimeout,
		log:         core.NopLogger(),
		dial:        dialer.DialContext,
		sleep:       sleepContext,
		registry:    NewRegistry(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Addr returns host:port of the realtime socket, also used as the limiter
// destination key.
func (t *Transport) Addr() string { return t.addr }

// Healthy reports whether the socket is connected and writable.
func (t *Transport) Healthy() bool { return t.healthy.Load() }

// Reconnects returns the number of successful reconnects.
func (t *Transport) Reconnects() uint64 { return t.reconnects.Load() }

// Connect opens the socket and starts the monitor loop. It is a no-op while
// a session is active.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		return nil
	}

	conn, err := t.open(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{cancel: cancel, done: make(chan struct{}), conn: conn}
	t.session = s
	t.healthy.Store(true)
	t.log.Info("Realtime channel connected", zap.String("addr", t.addr))

	go t.run(runCtx, s)
	return nil
}

// Disconnect stops the monitor loop and any pending reconnect, closes the
// socket and waits for the loop to exit. It is idempotent. While a callback
// is running it returns without waiting; the loop exits once the callback
// returns.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	s := t.session
	if s == nil {
		t.mu.Unlock()
		return
	}
	t.session = nil
	t.healthy.Store(false)
	s.cancel()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	t.mu.Unlock()

	if !s.dispatching.Load() {
		<-s.done
	}
	t.log.Info("Realtime channel disconnected", zap.String("addr", t.addr))
}

// RegisterCallback subscribes cb to an event code or ALL.
func (t *Transport) RegisterCallback(code string, cb Callback) (Subscription, error) {
	return t.registry.Register(code, cb)
}

// UnregisterCallback removes a subscription.
func (t *Transport) UnregisterCallback(sub Subscription) bool {
	return t.registry.Unregister(sub)
}

// SendCommand writes one command if the channel is healthy.
func (t *Transport) SendCommand(ctx context.Context, cmd string) bool {
	return t.SendCommands(ctx, cmd)
}

// SendCommands writes commands in order, acquiring a limiter token before
// each. It returns false as soon as a command cannot be sent. The channel is
// not request/response, so no reply is awaited.
func (t *Transport) SendCommands(ctx context.Context, cmds ...string) bool {
	for _, cmd := range cmds {
		if !t.Healthy() {
			t.notifyCommand(false)
			return false
		}
		if t.limiter != nil {
			if err := t.limiter.Acquire(ctx, t.addr); err != nil {
				t.log.Debug("Limiter acquire aborted", zap.String("command", cmd), zap.Error(err))
				t.notifyCommand(false)
				return false
			}
		}
		sent := t.write(cmd)
		t.notifyCommand(sent)
		if !sent {
			return false
		}
	}
	return true
}

// SendCommandsNoWait writes commands without acquiring limiter tokens. Used
// for navigation commands where the result does not matter.
func (t *Transport) SendCommandsNoWait(cmds ...string) {
	for _, cmd := range cmds {
		if !t.write(cmd) {
			return
		}
	}
}

func (t *Transport) write(cmd string) bool {
	t.mu.Lock()
	var conn net.Conn
	if t.session != nil && t.healthy.Load() {
		conn = t.session.conn
	}
	t.mu.Unlock()
	if conn == nil {
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(cmd + string(Delimiter))); err != nil {
		t.log.Warn("Realtime command write failed", zap.String("command", cmd), zap.Error(err))
		return false
	}
	t.log.Debug("Realtime command sent", zap.String("command", cmd))
	return true
}

func (t *Transport) open(ctx context.Context) (net.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	conn, err := t.dial(dialCtx, "tcp", t.addr)
	if err != nil {
		return nil, core.ClassifyNetError("connect", t.addr, err)
	}
	return conn, nil
}

// run drives one session: monitor until failure, then reconnect with
// backoff, until the session is cancelled.
func (t *Transport) run(ctx context.Context, s *session) {
	defer close(s.done)

	conn := s.conn
	for {
		err := t.monitor(ctx, s, conn)
		if ctx.Err() != nil {
			return
		}

		t.log.Warn("Realtime channel lost, reconnecting",
			zap.String("addr", t.addr), zap.Error(core.ClassifyNetError("read", t.addr, err)))
		if !t.markUnhealthy(s) {
			return
		}

		conn = t.reconnect(ctx)
		if conn == nil {
			return
		}
		if !t.install(s, conn) {
			_ = conn.Close()
			return
		}
	}
}

// monitor reads until the socket fails or stays idle past the timeout.
func (t *Transport) monitor(ctx context.Context, s *session, conn net.Conn) error {
	framer := &Framer{}
	buf := make([]byte, readChunkSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(t.idleTimeout)); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			for _, msg := range framer.Feed(buf[:n]) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.handle(s, msg)
			}
		}
		if err != nil {
			return err
		}
	}
}

func (t *Transport) handle(s *session, msg string) {
	ev, ok := ParseMessage(msg)
	if !ok {
		t.log.Debug("Dropping unrecognized realtime message", zap.String("message", msg))
		return
	}
	ev.At = time.Now().UTC()
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	if t.hooks.OnEvent != nil {
		t.hooks.OnEvent(ev)
	}
	t.registry.Dispatch(ev, func(code string, recovered any) {
		t.log.Error("Realtime callback panicked",
			zap.String("code", code), zap.Any("panic", recovered))
		if t.hooks.OnCallbackPanic != nil {
			t.hooks.OnCallbackPanic(code)
		}
	})
}

// reconnect retries the socket open with a fresh backoff until it succeeds
// or ctx is cancelled, in which case it returns nil.
func (t *Transport) reconnect(ctx context.Context) net.Conn {
	backoff := NewBackoff(t.cfg.BackoffInitial, t.cfg.BackoffMax)
	for attempt := 1; ; attempt++ {
		delay := backoff.Next()
		if err := t.sleep(ctx, delay); err != nil {
			return nil
		}
		conn, err := t.open(ctx)
		if err == nil {
			t.notifyReconnect(true)
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		t.notifyReconnect(false)
		t.log.Warn("Realtime reconnect attempt failed",
			zap.String("addr", t.addr),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
}

func (t *Transport) markUnhealthy(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != s {
		return false
	}
	t.healthy.Store(false)
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return true
}

func (t *Transport) install(s *session, conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != s {
		return false
	}
	s.conn = conn
	t.healthy.Store(true)
	t.reconnects.Add(1)
	t.log.Info("Realtime channel reconnected", zap.String("addr", t.addr))
	return true
}

func (t *Transport) notifyReconnect(success bool) {
	if t.hooks.OnReconnect != nil {
		t.hooks.OnReconnect(success)
	}
}

func (t *Transport) notifyCommand(sent bool) {
	if t.hooks.OnCommand != nil {
		t.hooks.OnCommand(sent)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
