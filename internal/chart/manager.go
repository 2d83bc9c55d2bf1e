// Package chart owns the active chart and the indicator registry: the
// add_indicator, remove_indicator, list_indicators, get_chart_data and
// set_timeframe commands, plus idle eviction of indicator handles.
package chart

import (
	"context"
	"time"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/telemetry"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

const (
	// DefaultBars is served when a bar count is missing or out of range.
	DefaultBars = 100
	// DefaultIdleTimeout evicts registrations not read for this long.
	DefaultIdleTimeout = 10 * time.Minute
	// DefaultHousekeepingInterval is the minimum spacing of eviction passes.
	DefaultHousekeepingInterval = 60 * time.Second
)

// Terminal is the slice of the trading terminal the chart manager needs.
type Terminal interface {
	Symbol(name string) (terminal.SymbolInfo, bool)
	ChartSymbol() string
	ChartPeriod() terminal.Timeframe
	SetChartPeriod(tf terminal.Timeframe) error
	Rates(symbol string, tf terminal.Timeframe, start, count int) ([]terminal.Bar, error)
	CreateIndicator(spec terminal.IndicatorSpec) (terminal.Handle, error)
	ReleaseIndicator(h terminal.Handle) bool
}

// Registrar accepts command handlers.
type Registrar interface {
	Register(name string, h dispatcher.Handler)
}

// Config bounds chart reads and the indicator cache.
type Config struct {
	MaxBars              int
	IdleTimeout          time.Duration
	HousekeepingInterval time.Duration
}

// ConfigFrom maps the application configuration.
func ConfigFrom(cfg config.ChartConfig) Config {
	return Config{
		MaxBars:              cfg.MaxBars,
		IdleTimeout:          cfg.IdleTimeout,
		HousekeepingInterval: cfg.HousekeepingInterval,
	}
}

// Registration is a live indicator handle and the request that created it.
type Registration struct {
	ID         int64
	Handle     terminal.Handle
	Kind       terminal.IndicatorKind
	Symbol     string
	Timeframe  terminal.Timeframe
	Params     []float64
	Created    time.Time
	LastAccess time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
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

// WithMetrics records evictions.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns the indicator registry. Registrations live in an arena keyed
// by a stable id; order keeps creation order for listing.
type Manager struct {
	term     Terminal
	cfg      Config
	entries  map[int64]*Registration
	byHandle map[terminal.Handle]int64
	order    []int64
	nextID   int64

	lastHousekeep time.Time

	now     func() time.Time
	logger  observability.Logger
	metrics *telemetry.Metrics
}

// NewManager builds a Manager over term.
func NewManager(term Terminal, cfg Config, opts ...Option) *Manager {
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = 5000
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HousekeepingInterval <= 0 {
		cfg.HousekeepingInterval = DefaultHousekeepingInterval
	}
	m := &Manager{
		term:     term,
		cfg:      cfg,
		entries:  make(map[int64]*Registration),
		byHandle: make(map[terminal.Handle]int64),
		nextID:   1,
		now:      time.Now,
		logger:   observability.Log(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register installs the chart commands.
func (m *Manager) Register(r Registrar) {
	r.Register("add_indicator", dispatcher.Reply(m.Add))
	r.Register("remove_indicator", dispatcher.Reply(m.Remove))
	r.Register("list_indicators", dispatcher.Reply(m.List))
	r.Register("get_chart_data", dispatcher.Reply(m.ChartData))
	r.Register("set_timeframe", dispatcher.Reply(m.SetTimeframe))
}

// MaxBars is the configured upper bound on bar reads.
func (m *Manager) MaxBars() int { return m.cfg.MaxBars }

// Len returns the number of live registrations.
func (m *Manager) Len() int { return len(m.order) }

// Registrations returns copies of the live registrations in creation order.
func (m *Manager) Registrations() []Registration {
	out := make([]Registration, 0, len(m.order))
	for _, id := range m.order {
		reg := *m.entries[id]
		reg.Params = append([]float64(nil), reg.Params...)
		out = append(out, reg)
	}
	return out
}

// Touch refreshes the access time of the registration owning handle. It
// reports false when no registration holds the handle.
func (m *Manager) Touch(handle terminal.Handle) (Registration, bool) {
	id, ok := m.byHandle[handle]
	if !ok {
		return Registration{}, false
	}
	reg := m.entries[id]
	reg.LastAccess = m.now()
	return *reg, true
}

// Housekeep evicts registrations idle for at least the idle timeout. Passes
// closer together than the housekeeping interval are skipped. It returns the
// number of evicted registrations.
func (m *Manager) Housekeep(ctx context.Context, now time.Time) int {
	if !m.lastHousekeep.IsZero() && now.Sub(m.lastHousekeep) < m.cfg.HousekeepingInterval {
		return 0
	}
	m.lastHousekeep = now

	var evicted int
	kept := m.order[:0]
	for _, id := range m.order {
		reg := m.entries[id]
		if now.Sub(reg.LastAccess) >= m.cfg.IdleTimeout {
			m.term.ReleaseIndicator(reg.Handle)
			delete(m.entries, id)
			delete(m.byHandle, reg.Handle)
			evicted++
			m.logger.Debug("indicator evicted",
				observability.F("id", id),
				observability.F("kind", string(reg.Kind)),
				observability.F("symbol", reg.Symbol))
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept

	if evicted > 0 {
		m.metrics.RecordEvictions(ctx, evicted)
		m.logger.Info("idle indicators evicted",
			observability.F("count", evicted),
			observability.F("remaining", len(m.order)))
	}
	return evicted
}

// ReleaseAll frees every handle. Used on shutdown.
func (m *Manager) ReleaseAll() {
	for _, id := range m.order {
		m.term.ReleaseIndicator(m.entries[id].Handle)
	}
	m.entries = make(map[int64]*Registration)
	m.byHandle = make(map[terminal.Handle]int64)
	m.order = nil
}

func (m *Manager) add(reg *Registration) {
	reg.ID = m.nextID
	m.nextID++
	m.entries[reg.ID] = reg
	m.byHandle[reg.Handle] = reg.ID
	m.order = append(m.order, reg.ID)
}

func (m *Manager) remove(id int64) (*Registration, bool) {
	reg, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	m.term.ReleaseIndicator(reg.Handle)
	delete(m.entries, id)
	delete(m.byHandle, reg.Handle)
	for i, candidate := range m.order {
		if candidate == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return reg, true
}
