package connection

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) { c.t = c.t.Add(d) }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeTransport struct {
	inbound [][]byte
	sent    [][]byte
	sendErr error
	pollErr error
	closed  bool
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Poll() ([]byte, bool, error) {
	if f.pollErr != nil {
		return nil, false, f.pollErr
	}
	if len(f.inbound) == 0 {
		return nil, false, nil
	}
	next := f.inbound[0]
	f.inbound = f.inbound[1:]
	return next, true, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func ackingTransport() *fakeTransport {
	return &fakeTransport{inbound: [][]byte{[]byte(`{"status":"connected","server_time":"2024-01-01T00:00:00"}`)}}
}

func testConfig() Config {
	return Config{
		Transport:            config.TransportTCP,
		Address:              "127.0.0.1:5555",
		Identity:             "MT5_EA",
		Version:              "1.0",
		Account:              123456,
		HandshakeTimeout:     5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
		ReconnectPolicy:      config.ReconnectConstant,
		MaxReconnectDelay:    time.Minute,
		KeepaliveInterval:    60 * time.Second,
		PollInterval:         10 * time.Millisecond,
	}
}

func newTestManager(cfg Config, clock *fakeClock, dial Dialer) *Manager {
	ids := 0
	return NewManager(cfg,
		WithDialer(dial),
		WithClock(clock.now, clock.sleep),
		WithIDGenerator(func() string {
			ids++
			return "ka-" + strconv.Itoa(ids)
		}),
	)
}

func TestNewManagerStartsIdle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(testConfig(), clock, nil)
	require.Equal(t, StateIdle, m.State())
	require.False(t, m.Connected())
}

func TestConnectPerformsHandshake(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := ackingTransport()
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) { return tr, nil })

	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, StateConnected, m.State())
	require.True(t, m.Session().Connected)
	require.Len(t, tr.sent, 1)
	require.JSONEq(t, `{"identity":"MT5_EA","version":"1.0","account":123456}`, string(tr.sent[0]))
}

func TestConnectHandshakeTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	start := clock.t
	tr := &fakeTransport{}
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) { return tr, nil })

	err := m.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, StateDisconnected, m.State())
	require.Equal(t, 1, m.Attempts())
	require.True(t, tr.closed)
	require.GreaterOrEqual(t, clock.t.Sub(start), 5*time.Second)
}

func TestConnectRejectsMalformedAck(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := &fakeTransport{inbound: [][]byte{[]byte(`{"status":"denied"}`)}}
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) { return tr, nil })

	require.Error(t, m.Connect(context.Background()))
	require.Equal(t, StateDisconnected, m.State())
	require.Equal(t, 1, m.Attempts())
}

func TestCheckGatesRetriesAndFailsPermanently(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	dials := 0
	m := newTestManager(cfg, clock, func(context.Context) (Transport, error) {
		dials++
		return nil, errors.New("connection refused")
	})

	ctx := context.Background()
	require.NoError(t, m.Check(ctx))
	require.Equal(t, 1, dials)

	clock.advance(time.Second)
	require.NoError(t, m.Check(ctx))
	require.Equal(t, 1, dials, "retry must wait for the reconnect delay")

	var fatal error
	for i := 0; i < 120 && fatal == nil; i++ {
		clock.advance(time.Second)
		fatal = m.Check(ctx)
	}
	require.ErrorIs(t, fatal, ErrPermanentlyFailed)
	require.Equal(t, StatePermanentlyFailed, m.State())
	require.Equal(t, 3, m.Attempts())
	require.Equal(t, 3, dials)

	clock.advance(time.Hour)
	require.ErrorIs(t, m.Check(ctx), ErrPermanentlyFailed)
	require.Equal(t, 3, dials, "a permanently failed session never redials")
	require.Equal(t, 3, m.Attempts())
}

func TestSuccessfulHandshakeResetsAttempts(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	fail := true
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) {
		if fail {
			return nil, errors.New("refused")
		}
		return ackingTransport(), nil
	})
	ctx := context.Background()
	require.NoError(t, m.Check(ctx))
	require.Equal(t, 1, m.Attempts())

	fail = false
	clock.advance(5 * time.Second)
	require.NoError(t, m.Check(ctx))
	require.True(t, m.Connected())
	require.Equal(t, 0, m.Attempts())
}

func TestExponentialPolicyGrowsDelay(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cfg := testConfig()
	cfg.ReconnectPolicy = config.ReconnectExponential
	cfg.ReconnectDelay = time.Second
	cfg.MaxReconnectAttempts = 10
	var dialTimes []time.Time
	m := newTestManager(cfg, clock, func(context.Context) (Transport, error) {
		dialTimes = append(dialTimes, clock.now())
		return nil, errors.New("refused")
	})
	ctx := context.Background()
	for i := 0; i < 80; i++ {
		require.NoError(t, m.Check(ctx))
		clock.advance(100 * time.Millisecond)
	}
	require.GreaterOrEqual(t, len(dialTimes), 4)
	require.Equal(t, time.Second, dialTimes[1].Sub(dialTimes[0]))
	require.Equal(t, 2*time.Second, dialTimes[2].Sub(dialTimes[1]))
	require.Equal(t, 4*time.Second, dialTimes[3].Sub(dialTimes[2]))
}

func TestKeepaliveInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := ackingTransport()
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) { return tr, nil })
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	tr.sent = nil

	clock.advance(30 * time.Second)
	require.NoError(t, m.Keepalive(ctx))
	require.Empty(t, tr.sent)

	clock.advance(30 * time.Second)
	require.NoError(t, m.Keepalive(ctx))
	require.Len(t, tr.sent, 1)
	require.JSONEq(t, `{"command":"ping","requestId":"ka-1"}`, string(tr.sent[0]))

	clock.advance(59 * time.Second)
	require.NoError(t, m.Keepalive(ctx))
	require.Len(t, tr.sent, 1)
}

func TestKeepaliveSendFailureDisconnects(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := ackingTransport()
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) { return tr, nil })
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	tr.sendErr = errors.New("broken pipe")
	clock.advance(time.Minute)
	require.Error(t, m.Keepalive(ctx))
	require.Equal(t, StateDisconnected, m.State())
	require.False(t, m.Session().Connected)
	require.True(t, tr.closed)
}

func TestPollFailureTriggersImmediateReconnect(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	first := ackingTransport()
	second := ackingTransport()
	transports := []*fakeTransport{first, second}
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) {
		next := transports[0]
		transports = transports[1:]
		return next, nil
	})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	first.inbound = [][]byte{[]byte(`{"command":"ping","requestId":"a"}`)}
	data, ok := m.Poll()
	require.True(t, ok)
	require.Equal(t, `{"command":"ping","requestId":"a"}`, string(data))

	first.pollErr = errors.New("reset by peer")
	_, ok = m.Poll()
	require.False(t, ok)
	require.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Check(ctx))
	require.True(t, m.Connected())
	require.Equal(t, 0, m.Attempts())
}

func TestDisconnectResetsSessionAndRedialsFreshTransport(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	first := ackingTransport()
	second := ackingTransport()
	dials := 0
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) {
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	m.Disconnect()
	require.True(t, first.closed)
	require.Equal(t, StateDisconnected, m.State())
	require.Equal(t, Session{}, m.Session())
	require.Equal(t, 1, dials, "disconnect does not open a transport")

	require.NoError(t, m.Check(ctx))
	require.Equal(t, 2, dials)
	require.True(t, m.Connected())
	require.Len(t, second.sent, 1)
	require.False(t, second.closed)
}

func TestReadWaitIsBounded(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tr := ackingTransport()
	m := newTestManager(testConfig(), clock, func(context.Context) (Transport, error) { return tr, nil })
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	start := clock.now()
	_, ok := m.ReadWait(ctx, 200*time.Millisecond)
	require.False(t, ok)
	waited := clock.now().Sub(start)
	require.GreaterOrEqual(t, waited, 200*time.Millisecond)
	require.Less(t, waited, 250*time.Millisecond)
}

func TestSendWithoutLink(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := newTestManager(testConfig(), clock, nil)
	require.ErrorIs(t, m.Send(context.Background(), []byte(`{}`)), ErrNotConnected)
	_, ok := m.Poll()
	require.False(t, ok)
}
