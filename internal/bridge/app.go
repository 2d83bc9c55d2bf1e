// Package bridge assembles the engine: one App owns the terminal, the
// connection, the dispatcher and the domain managers, and a Scheduler drives
// it from a single goroutine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Xolisakesi/metatrrade-mcp/internal/chart"
	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/connection"
	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/journal"
	"github.com/Xolisakesi/metatrrade-mcp/internal/market"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/orders"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/status"
	"github.com/Xolisakesi/metatrrade-mcp/internal/telemetry"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// Option customises an App.
type Option func(*App)

// WithDialer overrides how the controller link is opened.
func WithDialer(d connection.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithClock overrides the time source and the wait used by bounded reads.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration)) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
		a.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the metrics bundle shared by every component.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(a *App) { a.metrics = metrics }
}

// WithJournal records trading outcomes to j. The App closes it.
func WithJournal(j journal.Journal) Option {
	return func(a *App) {
		if j != nil {
			a.journal = j
		}
	}
}

// WithBoard publishes status snapshots to board.
func WithBoard(board *status.Board) Option {
	return func(a *App) {
		if board != nil {
			a.board = board
		}
	}
}

// App is the bridge context object. It is not safe for concurrent use: the
// scheduler goroutine is its only caller.
type App struct {
	cfg     config.AppConfig
	dialer  connection.Dialer
	now     func() time.Time
	sleep   func(context.Context, time.Duration)
	logger  observability.Logger
	metrics *telemetry.Metrics
	journal journal.Journal
	board   *status.Board

	term   *terminal.Simulator
	conn   *connection.Manager
	disp   *dispatcher.Dispatcher
	orders *orders.Manager
	chart  *chart.Manager
	market *market.Manager

	symbols     []string
	commands    uint64
	lastCommand string
}

// New wires an App from cfg.
func New(cfg config.AppConfig, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		now:     time.Now,
		logger:  observability.Log(),
		journal: journal.Noop{},
		board:   status.NewBoard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	period, ok := terminal.ParseTimeframe(cfg.Chart.Timeframe)
	if !ok {
		return nil, fmt.Errorf("chart timeframe %q is not supported", cfg.Chart.Timeframe)
	}
	a.term = terminal.NewSimulator(cfg.Terminal,
		terminal.WithSimClock(a.now),
		terminal.WithChart(cfg.Chart.Symbol, period),
		terminal.WithLogin(cfg.Connection.Account))
	a.symbols = a.term.Symbols()

	a.disp = dispatcher.New(
		dispatcher.WithClock(a.now),
		dispatcher.WithLogger(a.logger),
		dispatcher.WithMetrics(a.metrics))

	connOpts := []connection.Option{
		connection.WithClock(a.now, a.sleep),
		connection.WithLogger(a.logger),
		connection.WithMetrics(a.metrics),
	}
	if a.dialer != nil {
		connOpts = append(connOpts, connection.WithDialer(a.dialer))
	}
	a.conn = connection.NewManager(connection.ConfigFrom(cfg.Connection), connOpts...)

	a.orders = orders.NewManager(a.term, orders.ConfigFrom(cfg.Orders),
		orders.WithJournal(a.journal),
		orders.WithClock(a.now),
		orders.WithLogger(a.logger),
		orders.WithMetrics(a.metrics))
	a.chart = chart.NewManager(a.term, chart.ConfigFrom(cfg.Chart),
		chart.WithClock(a.now),
		chart.WithLogger(a.logger),
		chart.WithMetrics(a.metrics))
	a.market = market.NewManager(a.term, a.chart, a.now)

	a.orders.Register(a.disp)
	a.chart.Register(a.disp)
	a.market.Register(a.disp)

	a.publish()
	return a, nil
}

// Terminal exposes the simulated terminal.
func (a *App) Terminal() *terminal.Simulator { return a.term }

// Connection exposes the connection manager.
func (a *App) Connection() *connection.Manager { return a.conn }

// Commands lists the registered command names.
func (a *App) Commands() []string { return a.disp.Names() }

// Board returns the status board the App publishes to.
func (a *App) Board() *status.Board { return a.board }

// OnTick checks the link, then serves at most one inbound command. It only
// fails once the link is permanently lost.
func (a *App) OnTick(ctx context.Context) error {
	defer a.publish()
	if err := a.conn.Check(ctx); err != nil {
		return err
	}
	if !a.conn.Connected() {
		return nil
	}
	raw, ok := a.conn.Poll()
	if !ok {
		return nil
	}
	a.serve(ctx, raw)
	return nil
}

// OnTimer sends keepalives and runs indicator housekeeping.
func (a *App) OnTimer(ctx context.Context) error {
	defer a.publish()
	if err := a.conn.Keepalive(ctx); err != nil {
		a.logger.Warn("keepalive failed", observability.Err(err))
	}
	a.chart.Housekeep(ctx, a.now())
	if a.conn.State() == connection.StatePermanentlyFailed {
		return connection.ErrPermanentlyFailed
	}
	return nil
}

func (a *App) serve(ctx context.Context, raw []byte) {
	res := a.disp.Serve(ctx, raw)
	if res.Reply {
		a.logger.Debug("ignoring inbound reply", observability.F("bytes", len(raw)))
		return
	}
	resp := res.Response
	payload, err := protocol.Encode(resp)
	if err != nil {
		a.logger.Error("encode response failed", observability.Err(err))
		payload, err = protocol.Encode(protocol.Error(resp.ResponseToID, "failed to encode response"))
		if err != nil {
			return
		}
	}
	a.commands++
	if res.Command != "" {
		a.lastCommand = res.Command
	}
	if err := a.conn.Send(ctx, payload); err != nil && !errors.Is(err, connection.ErrNotConnected) {
		a.logger.Warn("response not delivered",
			observability.F("request_id", resp.ResponseToID),
			observability.Err(err))
	}
}

func (a *App) publish() {
	snap := a.conn.Snapshot()
	out := status.Snapshot{
		Environment: string(a.cfg.Environment),
		State:       snap.State.String(),
		Transport:   snap.Transport,
		Address:     snap.Address,
		Attempts:    snap.Attempts,
		Commands:    a.commands,
		LastCommand: a.lastCommand,
		Indicators:  a.chart.Len(),
		Positions:   len(a.term.Positions()),
		Orders:      len(a.term.Orders()),
		Symbols:     a.symbols,
		Healthy:     snap.State != connection.StatePermanentlyFailed,
		UpdatedAt:   protocol.FormatTime(a.now()),
	}
	if !snap.LastActivity.IsZero() {
		out.LastActivity = protocol.FormatTime(snap.LastActivity)
	}
	if !snap.LastPing.IsZero() {
		out.LastPing = protocol.FormatTime(snap.LastPing)
	}
	a.board.Publish(out)
}

// Close releases indicator handles, drops the link and closes the journal.
func (a *App) Close() error {
	a.chart.ReleaseAll()
	a.conn.Disconnect()
	a.publish()
	return a.journal.Close()
}
