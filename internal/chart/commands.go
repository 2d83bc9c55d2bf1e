package chart

import (
	"context"

	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// IndicatorView is the wire form of a registration.
type IndicatorView struct {
	ID         int64     `json:"id"`
	Handle     int       `json:"handle"`
	Kind       string    `json:"kind"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Parameters []float64 `json:"parameters"`
	Buffers    int       `json:"buffers"`
	Created    string    `json:"created"`
	LastAccess string    `json:"lastAccess"`
}

func indicatorView(reg Registration) IndicatorView {
	return IndicatorView{
		ID:         reg.ID,
		Handle:     int(reg.Handle),
		Kind:       string(reg.Kind),
		Symbol:     reg.Symbol,
		Timeframe:  reg.Timeframe.String(),
		Parameters: reg.Params,
		Buffers:    terminal.BufferCount(reg.Kind),
		Created:    protocol.FormatTime(reg.Created),
		LastAccess: protocol.FormatTime(reg.LastAccess),
	}
}

// Add serves add_indicator.
func (m *Manager) Add(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "chart.add_indicator"
	p := req.Params

	name, ok := p.String("kind")
	if !ok {
		name, ok = p.String("type")
	}
	if !ok || name == "" {
		return nil, errs.Invalid(op, "kind is required")
	}
	kind, ok := ParseKind(name)
	if !ok {
		return nil, errs.Invalid(op, "unknown indicator kind: %s", name)
	}
	info, err := SymbolParam(op, m.term, p, "symbol")
	if err != nil {
		return nil, err
	}
	tf, err := TimeframeParam(op, m.term, p, "timeframe")
	if err != nil {
		return nil, err
	}
	raw, _ := p.Raw("parameters")
	supplied, err := parseParameters(op, raw)
	if err != nil {
		return nil, err
	}
	params, err := resolveParameters(op, kind, supplied, m.cfg.MaxBars)
	if err != nil {
		return nil, err
	}

	handle, err := m.term.CreateIndicator(terminal.IndicatorSpec{
		Kind:      kind,
		Symbol:    info.Name,
		Timeframe: tf,
		Params:    params,
	})
	if err != nil {
		return nil, err
	}
	now := m.now()
	reg := &Registration{
		Handle:     handle,
		Kind:       kind,
		Symbol:     info.Name,
		Timeframe:  tf,
		Params:     params,
		Created:    now,
		LastAccess: now,
	}
	m.add(reg)
	m.logger.Debug("indicator added",
		observability.F("id", reg.ID),
		observability.F("handle", int(handle)),
		observability.F("kind", string(kind)),
		observability.F("symbol", info.Name))
	return indicatorView(*reg), nil
}

// Remove serves remove_indicator.
func (m *Manager) Remove(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "chart.remove_indicator"
	if !req.Params.Has("id") {
		return nil, errs.Invalid(op, "id is required")
	}
	id, ok := req.Params.Int("id")
	if !ok || id <= 0 {
		return nil, errs.Invalid(op, "id must be a positive integer")
	}
	reg, ok := m.remove(id)
	if !ok {
		return nil, errs.NotFound(op, "indicator %d not found", id)
	}
	return map[string]any{"id": reg.ID, "handle": int(reg.Handle), "removed": true}, nil
}

// List serves list_indicators.
func (m *Manager) List(context.Context, dispatcher.Request) (any, error) {
	regs := m.Registrations()
	out := make([]IndicatorView, 0, len(regs))
	for _, reg := range regs {
		out = append(out, indicatorView(reg))
	}
	schemas := make(map[string][]Param, len(Kinds()))
	for _, kind := range Kinds() {
		schemas[string(kind)] = Schema(kind, m.cfg.MaxBars)
	}
	return map[string]any{"indicators": out, "catalog": schemas}, nil
}

// ChartData serves get_chart_data.
func (m *Manager) ChartData(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "chart.get_chart_data"
	info, err := SymbolParam(op, m.term, req.Params, "symbol")
	if err != nil {
		return nil, err
	}
	tf, err := TimeframeParam(op, m.term, req.Params, "timeframe")
	if err != nil {
		return nil, err
	}
	return LoadSeries(m.term, info.Name, tf, ClampBars(req.Params, "bars", m.cfg.MaxBars))
}

// SetTimeframe serves set_timeframe.
func (m *Manager) SetTimeframe(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "chart.set_timeframe"
	text, ok := req.Params.String("timeframe")
	if !ok || text == "" {
		return nil, errs.Invalid(op, "timeframe is required")
	}
	tf, ok := terminal.ParseTimeframe(text)
	if !ok {
		return nil, errs.Invalid(op, "unsupported timeframe: %s", text)
	}
	if err := m.term.SetChartPeriod(tf); err != nil {
		return nil, err
	}
	m.logger.Info("chart timeframe changed",
		observability.F("symbol", m.term.ChartSymbol()),
		observability.F("timeframe", tf.String()))
	return map[string]any{"symbol": m.term.ChartSymbol(), "timeframe": tf.String()}, nil
}
