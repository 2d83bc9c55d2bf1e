package connection

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/telemetry"
)

// State is the lifecycle position of the link.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateConnecting
	StateConnected
	StateDisconnected
	StatePermanentlyFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StatePermanentlyFailed:
		return "permanently_failed"
	default:
		return "uninitialized"
	}
}

// ackToken marks a successful identification acknowledgement.
const ackToken = "connected"

var (
	// ErrPermanentlyFailed is returned once the reconnect budget is spent.
	ErrPermanentlyFailed = errs.New("connection", errs.CodeUnavailable,
		errs.WithMessage("connection permanently failed after exhausting reconnect attempts"))
	// ErrNotConnected is returned when sending without a live link.
	ErrNotConnected = errs.New("connection/send", errs.CodeNetwork, errs.WithMessage("not connected"))
)

// Config carries the link settings.
type Config struct {
	Transport            config.Transport
	Address              string
	Path                 string
	Identity             string
	Version              string
	Account              int64
	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectPolicy      config.ReconnectPolicy
	MaxReconnectDelay    time.Duration
	KeepaliveInterval    time.Duration
	PollInterval         time.Duration
}

// ConfigFrom maps the application connection section.
func ConfigFrom(c config.ConnectionConfig) Config {
	return Config{
		Transport:            c.Transport,
		Address:              c.Address(),
		Path:                 c.Path,
		Identity:             c.Identity,
		Version:              c.Version,
		Account:              c.Account,
		HandshakeTimeout:     c.HandshakeTimeout,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       c.ReconnectDelay,
		ReconnectPolicy:      c.ReconnectPolicy,
		MaxReconnectDelay:    c.MaxReconnectDelay,
		KeepaliveInterval:    c.KeepaliveInterval,
		PollInterval:         c.PollInterval,
	}
}

// Session is the state of the single logical connection.
type Session struct {
	Connected    bool
	LastActivity time.Time
}

// Snapshot is a read-only view of the manager for status reporting.
type Snapshot struct {
	State        State
	Address      string
	Transport    string
	Attempts     int
	LastActivity time.Time
	LastPing     time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithDialer overrides how transports are opened.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dial = d
		}
	}
}

// WithClock overrides the time source and the wait used between polls.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithIDGenerator overrides keepalive request id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics bundle.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager owns the transport and drives the connect, identify, keepalive and
// reconnect lifecycle. It is not safe for concurrent use; a single scheduler
// goroutine owns it.
type Manager struct {
	cfg     Config
	dial    Dialer
	now     func() time.Time
	sleep   func(context.Context, time.Duration)
	newID   func() string
	logger  observability.Logger
	metrics *telemetry.Metrics

	state       State
	transport   Transport
	session     Session
	policy      backoff.BackOff
	attempts    int
	nextDelay   time.Duration
	lastAttempt time.Time
	lastPing    time.Time
}

// NewManager prepares an idle manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 1
	}
	m := &Manager{
		cfg:     cfg,
		dial:    NewDialer(cfg),
		now:     time.Now,
		sleep:   sleepContext,
		newID:   uuid.NewString,
		logger:  observability.Log(),
		metrics: nil,
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.policy = newPolicy(cfg)
	m.state = StateIdle
	return m
}

func newPolicy(cfg Config) backoff.BackOff {
	if cfg.ReconnectPolicy == config.ReconnectExponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = cfg.ReconnectDelay
		eb.MaxInterval = cfg.MaxReconnectDelay
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.Reset()
		return eb
	}
	return backoff.NewConstantBackOff(cfg.ReconnectDelay)
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// Connected reports whether the link is up.
func (m *Manager) Connected() bool { return m.state == StateConnected }

// Attempts returns the consecutive failed connect attempts.
func (m *Manager) Attempts() int { return m.attempts }

// Session returns the current session.
func (m *Manager) Session() Session { return m.session }

// Snapshot returns a read-only view for status reporting.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		State:        m.state,
		Address:      m.cfg.Address,
		Transport:    string(m.cfg.Transport),
		Attempts:     m.attempts,
		LastActivity: m.session.LastActivity,
		LastPing:     m.lastPing,
	}
}

// Connect opens the transport and performs the identification handshake.
// Any failure leaves the manager Disconnected, or PermanentlyFailed once the
// attempt budget is spent.
func (m *Manager) Connect(ctx context.Context) error {
	if m.state == StatePermanentlyFailed {
		return ErrPermanentlyFailed
	}
	if m.state == StateConnected {
		return nil
	}
	m.state = StateConnecting
	m.lastAttempt = m.now()
	m.logger.Info("connecting to controller",
		observability.F("address", m.cfg.Address),
		observability.F("attempt", m.attempts+1))

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	t, err := m.dial(dialCtx)
	cancel()
	if err != nil {
		return m.fail(ctx, nil, err)
	}

	started := m.now()
	hello, err := protocol.Marshal(protocol.Handshake{
		Identity: m.cfg.Identity,
		Version:  m.cfg.Version,
		Account:  m.cfg.Account,
	})
	if err != nil {
		return m.fail(ctx, t, err)
	}
	if err := t.Send(ctx, hello); err != nil {
		return m.fail(ctx, t, err)
	}

	ack, ok, err := m.waitOn(ctx, t, m.cfg.HandshakeTimeout, ackToken)
	if err != nil {
		return m.fail(ctx, t, err)
	}
	if !ok {
		return m.fail(ctx, t, errs.New("connection/handshake", errs.CodeNetwork,
			errs.WithMessage("handshake timed out after "+m.cfg.HandshakeTimeout.String())))
	}
	if !strings.Contains(string(ack), ackToken) {
		return m.fail(ctx, t, errs.New("connection/handshake", errs.CodeNetwork,
			errs.WithMessage("unexpected handshake acknowledgement"),
			errs.WithField("ack", truncate(string(ack), 128))))
	}

	now := m.now()
	m.transport = t
	m.state = StateConnected
	m.attempts = 0
	m.policy.Reset()
	m.session = Session{Connected: true, LastActivity: now}
	m.lastPing = now
	m.metrics.RecordConnectionAttempt(ctx, string(m.cfg.Transport), "success")
	m.metrics.RecordHandshake(ctx, string(m.cfg.Transport), now.Sub(started))
	m.logger.Info("connected to controller", observability.F("address", m.cfg.Address))
	return nil
}

func (m *Manager) fail(ctx context.Context, t Transport, cause error) error {
	if t != nil {
		_ = t.Close()
	}
	m.transport = nil
	m.session = Session{}
	m.attempts++
	m.metrics.RecordConnectionAttempt(ctx, string(m.cfg.Transport), "failure")

	delay := m.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.MaxReconnectDelay
	}
	m.nextDelay = delay

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = StatePermanentlyFailed
		m.logger.Error("connection permanently failed",
			observability.F("address", m.cfg.Address),
			observability.F("attempts", m.attempts),
			observability.Err(cause))
		return ErrPermanentlyFailed
	}
	m.state = StateDisconnected
	m.logger.Warn("connection attempt failed",
		observability.F("address", m.cfg.Address),
		observability.F("attempt", m.attempts),
		observability.F("retry_in", delay.String()),
		observability.Err(cause))
	return cause
}

// Check keeps the link alive from the cooperative tick. It reconnects when
// the link is down and the retry delay since the last attempt has elapsed,
// without ever sleeping. Only ErrPermanentlyFailed is returned.
func (m *Manager) Check(ctx context.Context) error {
	switch m.state {
	case StateConnected, StateConnecting:
		return nil
	case StatePermanentlyFailed:
		return ErrPermanentlyFailed
	case StateDisconnected:
		if m.now().Sub(m.lastAttempt) < m.nextDelay {
			return nil
		}
	}
	if err := m.Connect(ctx); errors.Is(err, ErrPermanentlyFailed) {
		return err
	}
	return nil
}

// Send writes one envelope. A failed send takes the link down.
func (m *Manager) Send(ctx context.Context, payload []byte) error {
	if m.state != StateConnected || m.transport == nil {
		return ErrNotConnected
	}
	if err := m.transport.Send(ctx, payload); err != nil {
		m.linkDown("send failed", err)
		return err
	}
	m.session.LastActivity = m.now()
	return nil
}

// Poll returns the next inbound envelope without blocking.
func (m *Manager) Poll() ([]byte, bool) {
	if m.state != StateConnected || m.transport == nil {
		return nil, false
	}
	data, ok, err := m.transport.Poll()
	if err != nil {
		m.linkDown("receive failed", err)
		return nil, false
	}
	if ok {
		m.session.LastActivity = m.now()
	}
	return data, ok
}

// ReadWait polls in short increments for up to timeout.
func (m *Manager) ReadWait(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	if m.state != StateConnected || m.transport == nil {
		return nil, false
	}
	data, ok, err := m.waitOn(ctx, m.transport, timeout, "")
	if err != nil {
		m.linkDown("receive failed", err)
		return nil, false
	}
	if ok {
		m.session.LastActivity = m.now()
	}
	return data, ok
}

// waitOn polls t until a frame arrives or timeout passes. A non-empty token
// also accepts unterminated plain text containing it.
func (m *Manager) waitOn(ctx context.Context, t Transport, timeout time.Duration, token string) ([]byte, bool, error) {
	deadline := m.now().Add(timeout)
	for {
		data, ok, err := t.Poll()
		if err != nil || ok {
			return data, ok, err
		}
		if u, can := t.(unframedReader); can && token != "" {
			if text, found := u.TakeUnframed(token); found {
				return text, true, nil
			}
		}
		if !m.now().Before(deadline) || ctx.Err() != nil {
			return nil, false, nil
		}
		m.sleep(ctx, m.cfg.PollInterval)
	}
}

// Keepalive sends a ping when the keepalive interval has elapsed since the
// last successful one.
func (m *Manager) Keepalive(ctx context.Context) error {
	if m.state != StateConnected {
		return nil
	}
	now := m.now()
	if now.Sub(m.lastPing) < m.cfg.KeepaliveInterval {
		return nil
	}
	payload, err := protocol.Marshal(protocol.NewPing(m.newID()))
	if err != nil {
		return err
	}
	if err := m.Send(ctx, payload); err != nil {
		return err
	}
	m.lastPing = now
	m.logger.Debug("keepalive sent")
	return nil
}

// Disconnect closes the transport and resets the session. The next Check
// reconnects immediately.
func (m *Manager) Disconnect() {
	if m.transport != nil {
		_ = m.transport.Close()
	}
	m.transport = nil
	m.session = Session{}
	m.lastPing = time.Time{}
	m.nextDelay = 0
	if m.state != StatePermanentlyFailed {
		m.state = StateDisconnected
	}
}

func (m *Manager) linkDown(reason string, err error) {
	m.logger.Warn("link down", observability.F("reason", reason), observability.Err(err))
	m.Disconnect()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
