package telnet

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/avrlink/avrlink/internal/core"
)

// fakeDevice accepts realtime connections and hands them to the test.
type fakeDevice struct {
	ln    net.Listener
	conns chan net.Conn

	mu  sync.Mutex
	all []net.Conn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDevice{ln: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			d.mu.Lock()
			d.all = append(d.all, conn)
			d.mu.Unlock()
			d.conns <- conn
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		d.mu.Lock()
		defer d.mu.Unlock()
		for _, c := range d.all {
			_ = c.Close()
		}
	})
	return d
}

func (d *fakeDevice) config(t *testing.T) Config {
	t.Helper()
	host, port, err := net.SplitHostPort(d.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Config{Host: host, Port: p, ConnectTimeout: time.Second}
}

func (d *fakeDevice) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("device did not receive a connection")
		return nil
	}
}

func TestTransportDispatchesFramedEvents(t *testing.T) {
	device := newFakeDevice(t)
	tr, err := NewTransport(device.config(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	events := make(chan core.Event, 8)
	_, err = tr.RegisterCallback(core.EventAll, func(zone core.Zone, code, param string) {
		events <- core.Event{Zone: zone, Code: code, Parameter: param}
	})
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	require.True(t, tr.Healthy())

	conn := device.accept(t)
	_, err = conn.Write([]byte("MV5"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte("5\rZMON\r"))
	require.NoError(t, err)

	want := []core.Event{
		{Zone: core.ZoneMain, Code: "MV", Parameter: "55"},
		{Zone: core.ZoneMain, Code: "ZM", Parameter: "ON"},
	}
	for _, w := range want {
		select {
		case got := <-events:
			require.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", w)
		}
	}
	select {
	case extra := <-events:
		t.Fatalf("unexpected event %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransportCallbackPanicDoesNotStopLoop(t *testing.T) {
	device := newFakeDevice(t)
	var panics atomic.Int32
	tr, err := NewTransport(device.config(t),
		WithLogger(zaptest.NewLogger(t)),
		WithHooks(Hooks{OnCallbackPanic: func(string) { panics.Add(1) }}))
	require.NoError(t, err)

	got := make(chan string, 4)
	_, err = tr.RegisterCallback("PW", func(core.Zone, string, string) { panic("subscriber failure") })
	require.NoError(t, err)
	_, err = tr.RegisterCallback("PW", func(_ core.Zone, _ string, param string) { got <- param })
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	conn := device.accept(t)
	_, err = conn.Write([]byte("PWON\rPWSTANDBY\r"))
	require.NoError(t, err)

	for _, want := range []string{"ON", "STANDBY"} {
		select {
		case p := <-got:
			require.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatal("second subscriber not invoked")
		}
	}
	require.Equal(t, int32(2), panics.Load())
	require.True(t, tr.Healthy())
}

type countingLimiter struct {
	calls atomic.Int32
	dests sync.Map
}

func (c *countingLimiter) Acquire(_ context.Context, dest string) error {
	c.calls.Add(1)
	c.dests.Store(dest, true)
	return nil
}

func TestTransportSendCommands(t *testing.T) {
	device := newFakeDevice(t)
	limiter := &countingLimiter{}
	tr, err := NewTransport(device.config(t), WithLimiter(limiter))
	require.NoError(t, err)

	require.False(t, tr.SendCommand(context.Background(), "PWON"), "not connected")

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	conn := device.accept(t)

	require.True(t, tr.SendCommands(context.Background(), "PWON", "MVUP"))
	tr.SendCommandsNoWait("MNCUP")

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"PWON\r", "MVUP\r", "MNCUP\r"} {
		line, err := reader.ReadString('\r')
		require.NoError(t, err)
		require.Equal(t, want, line)
	}

	require.Equal(t, int32(2), limiter.calls.Load())
	_, ok := limiter.dests.Load(tr.Addr())
	require.True(t, ok)
}

func TestTransportConnectErrors(t *testing.T) {
	t.Run("Refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().(*net.TCPAddr)
		require.NoError(t, ln.Close())

		tr, err := NewTransport(Config{Host: "127.0.0.1", Port: addr.Port, ConnectTimeout: time.Second})
		require.NoError(t, err)
		err = tr.Connect(context.Background())
		var netErr *core.NetworkError
		require.True(t, errors.As(err, &netErr), "got %v", err)
		require.False(t, tr.Healthy())
	})

	t.Run("Timeout", func(t *testing.T) {
		blocking := func(ctx context.Context, _, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		tr, err := NewTransport(Config{Host: "192.0.2.1", ConnectTimeout: 20 * time.Millisecond}, WithDialer(blocking))
		require.NoError(t, err)
		err = tr.Connect(context.Background())
		require.True(t, core.IsTimeout(err), "got %v", err)
	})

	t.Run("MissingHost", func(t *testing.T) {
		_, err := NewTransport(Config{})
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

func TestTransportConnectIdempotent(t *testing.T) {
	device := newFakeDevice(t)
	tr, err := NewTransport(device.config(t))
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	device.accept(t)

	select {
	case <-device.conns:
		t.Fatal("second Connect opened another socket")
	case <-time.After(50 * time.Millisecond):
	}

	tr.Disconnect()
	tr.Disconnect()
	require.False(t, tr.Healthy())
}

func TestTransportReconnectBackoff(t *testing.T) {
	device := newFakeDevice(t)
	cfg := device.config(t)

	var dials atomic.Int32
	dialer := &net.Dialer{}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		switch dials.Add(1) {
		case 2, 3, 4, 6:
			return nil, errors.New("connection refused")
		}
		return dialer.DialContext(ctx, network, addr)
	}

	var mu sync.Mutex
	var delays []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		n := len(delays)
		mu.Unlock()
		if n > 6 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	tr, err := NewTransport(cfg, WithDialer(dial), WithSleep(sleep), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	tr.idleTimeout = 50 * time.Millisecond

	require.NoError(t, tr.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delays) >= 7
	}, 5*time.Second, 10*time.Millisecond)

	tr.Disconnect()
	require.False(t, tr.Healthy())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
		500 * time.Millisecond, time.Second,
	}, delays[:6])
	require.Equal(t, uint64(2), tr.Reconnects())
	require.Equal(t, int32(7), dials.Load())
}

func TestTransportReconnectsAfterPeerClose(t *testing.T) {
	device := newFakeDevice(t)
	tr, err := NewTransport(device.config(t),
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
	require.NoError(t, err)

	events := make(chan string, 4)
	_, err = tr.RegisterCallback("SI", func(_ core.Zone, _ string, p string) { events <- p })
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	first := device.accept(t)
	require.NoError(t, first.Close())

	second := device.accept(t)
	require.Eventually(t, tr.Healthy, 2*time.Second, 5*time.Millisecond)
	_, err = second.Write([]byte("SITUNER\r"))
	require.NoError(t, err)

	select {
	case p := <-events:
		require.Equal(t, "TUNER", p)
	case <-time.After(2 * time.Second):
		t.Fatal("callback lost across reconnect")
	}
	require.Equal(t, uint64(1), tr.Reconnects())
}

func TestTransportDisconnectFromCallback(t *testing.T) {
	device := newFakeDevice(t)
	tr, err := NewTransport(device.config(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	returned := make(chan struct{})
	var calls atomic.Int32
	_, err = tr.RegisterCallback("PW", func(core.Zone, string, string) {
		calls.Add(1)
		tr.Disconnect()
		close(returned)
	})
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	conn := device.accept(t)
	_, err = conn.Write([]byte("PWSTANDBY\rPWON\r"))
	require.NoError(t, err)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect called from a callback did not return")
	}
	require.False(t, tr.Healthy())

	// The loop closes the socket and stops dispatching the rest of the chunk.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = bufio.NewReader(conn).ReadByte()
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	// A second Disconnect from outside is a no-op and the transport can be
	// connected again.
	tr.Disconnect()
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	device.accept(t)
	require.True(t, tr.Healthy())
}
