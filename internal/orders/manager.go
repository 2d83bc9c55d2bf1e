// Package orders serves the trading commands: open_order, modify_order,
// close_order and get_orders.
package orders

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/journal"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/telemetry"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// Terminal is the slice of the trading terminal the order manager needs.
type Terminal interface {
	Symbol(name string) (terminal.SymbolInfo, bool)
	Send(ctx context.Context, req terminal.TradeRequest) (terminal.TradeResult, error)
	Orders() []terminal.Order
	OrderByTicket(ticket uint64) (terminal.Order, bool)
	Positions() []terminal.Position
	PositionByTicket(ticket uint64) (terminal.Position, bool)
}

// Recorder receives trading outcomes.
type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Registrar accepts command handlers.
type Registrar interface {
	Register(name string, h dispatcher.Handler)
}

// Config bounds trading requests.
type Config struct {
	MaxVolume    float64
	MaxPerSecond float64
	Burst        int
	Deviation    int
	Magic        int64
}

// ConfigFrom maps the application configuration.
func ConfigFrom(cfg config.OrdersConfig) Config {
	return Config{
		MaxVolume:    cfg.MaxVolume,
		MaxPerSecond: cfg.MaxPerSecond,
		Burst:        cfg.Burst,
		Deviation:    cfg.Deviation,
		Magic:        cfg.Magic,
	}
}

// Option customises a Manager.
type Option func(*Manager)

// WithJournal records every trading outcome to rec.
func WithJournal(rec Recorder) Option {
	return func(m *Manager) {
		if rec != nil {
			m.journal = rec
		}
	}
}

// WithClock overrides the time source used by the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records rejected orders.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager validates trading commands and forwards them to the terminal.
type Manager struct {
	term    Terminal
	cfg     Config
	limiter *rate.Limiter
	journal Recorder
	now     func() time.Time
	logger  observability.Logger
	metrics *telemetry.Metrics
}

// NewManager builds a Manager. A zero MaxPerSecond disables rate limiting.
func NewManager(term Terminal, cfg Config, opts ...Option) *Manager {
	if cfg.MaxVolume <= 0 {
		cfg.MaxVolume = 100
	}
	m := &Manager{
		term:    term,
		cfg:     cfg,
		journal: journal.Noop{},
		now:     time.Now,
		logger:  observability.Log(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.MaxPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst)
	}
	return m
}

// Register installs the trading commands.
func (m *Manager) Register(r Registrar) {
	r.Register("open_order", dispatcher.Reply(m.Open))
	r.Register("modify_order", dispatcher.Reply(m.Modify))
	r.Register("close_order", dispatcher.Reply(m.Close))
	r.Register("get_orders", dispatcher.Reply(m.List))
}

func (m *Manager) allow() bool {
	if m.limiter == nil {
		return true
	}
	return m.limiter.AllowN(m.now(), 1)
}

func (m *Manager) record(ctx context.Context, entry journal.Entry) {
	if entry.Time.IsZero() {
		entry.Time = m.now()
	}
	if err := m.journal.Record(ctx, entry); err != nil {
		m.logger.Warn("trade journal write failed",
			observability.F("operation", entry.Operation),
			observability.F("ticket", entry.Ticket),
			observability.Err(err))
	}
}
