// Package market serves the read-only queries: prices, history, indicator
// values and account state.
package market

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Xolisakesi/metatrrade-mcp/internal/chart"
	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// moneyDigits is the precision of account currency amounts.
const moneyDigits = 2

// Terminal is the slice of the trading terminal the market manager reads.
type Terminal interface {
	chart.RatesSource
	Tick(symbol string) (terminal.Tick, error)
	Account() terminal.AccountInfo
	IndicatorValid(h terminal.Handle) bool
	IndicatorBuffer(h terminal.Handle, buffer, start, count int) ([]float64, error)
}

// Registry resolves indicator handles to live registrations.
type Registry interface {
	Touch(handle terminal.Handle) (chart.Registration, bool)
	MaxBars() int
}

// Registrar accepts command handlers.
type Registrar interface {
	Register(name string, h dispatcher.Handler)
}

// Manager serves market and account reads.
type Manager struct {
	term     Terminal
	registry Registry
	now      func() time.Time
}

// NewManager builds a Manager. A nil now uses the wall clock.
func NewManager(term Terminal, registry Registry, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{term: term, registry: registry, now: now}
}

// Register installs the market commands.
func (m *Manager) Register(r Registrar) {
	r.Register("get_price", dispatcher.Reply(m.Price))
	r.Register("get_history", dispatcher.Reply(m.History))
	r.Register("get_indicator_value", dispatcher.Reply(m.IndicatorValue))
	r.Register("get_account_info", dispatcher.Reply(m.AccountInfo))
	r.Register("get_balance", dispatcher.Reply(m.Balance))
	r.Register("get_equity", dispatcher.Reply(m.Equity))
	r.Register("get_margin", dispatcher.Reply(m.Margin))
}

func round(v float64, digits int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(int32(digits)).InexactFloat64()
}

// PriceView is the get_price result.
type PriceView struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Spread int     `json:"spread"`
	Digits int     `json:"digits"`
	Time   string  `json:"time"`
}

// Price serves get_price.
func (m *Manager) Price(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "market.get_price"
	info, err := chart.SymbolParam(op, m.term, req.Params, "symbol")
	if err != nil {
		return nil, err
	}
	tick, err := m.term.Tick(info.Name)
	if err != nil {
		return nil, err
	}
	spread := 0
	if info.Point > 0 {
		spread = int(math.Round((tick.Ask - tick.Bid) / info.Point))
	}
	return PriceView{
		Symbol: info.Name,
		Bid:    round(tick.Bid, info.Digits),
		Ask:    round(tick.Ask, info.Digits),
		Last:   round(tick.Last, info.Digits),
		Spread: spread,
		Digits: info.Digits,
		Time:   protocol.FormatTime(tick.Time),
	}, nil
}

// History serves get_history with the same bounds as get_chart_data.
func (m *Manager) History(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "market.get_history"
	info, err := chart.SymbolParam(op, m.term, req.Params, "symbol")
	if err != nil {
		return nil, err
	}
	tf, err := chart.TimeframeParam(op, m.term, req.Params, "timeframe")
	if err != nil {
		return nil, err
	}
	return chart.LoadSeries(m.term, info.Name, tf, chart.ClampBars(req.Params, "bars", m.registry.MaxBars()))
}

// IndicatorValueView is the get_indicator_value result. Values run most
// recent first; null marks bars without enough history.
type IndicatorValueView struct {
	ID        int64      `json:"id"`
	Handle    int        `json:"handle"`
	Kind      string     `json:"kind"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Buffer    int        `json:"buffer"`
	Values    []*float64 `json:"values"`
}

// IndicatorValue serves get_indicator_value.
func (m *Manager) IndicatorValue(_ context.Context, req dispatcher.Request) (any, error) {
	const op = "market.get_indicator_value"
	p := req.Params
	if !p.Has("handle") {
		return nil, errs.Invalid(op, "handle is required")
	}
	raw, ok := p.Int("handle")
	if !ok {
		return nil, errs.Invalid(op, "handle must be an integer")
	}
	buffer := int64(0)
	if p.Has("buffer") {
		if buffer, ok = p.Int("buffer"); !ok || buffer < 0 {
			return nil, errs.Invalid(op, "buffer must be a non-negative integer")
		}
	}
	count, ok := p.Int("count")
	if !ok || count < 1 || count > int64(m.registry.MaxBars()) {
		count = 1
	}

	handle := terminal.Handle(raw)
	reg, ok := m.registry.Touch(handle)
	if !ok {
		return nil, errs.NotFound(op, "indicator handle %d is not registered", raw)
	}
	if !m.term.IndicatorValid(handle) {
		return nil, terminal.RuntimeError(op, terminal.ErrIndicatorWrongHandle)
	}
	values, err := m.term.IndicatorBuffer(handle, int(buffer), 0, int(count))
	if err != nil {
		return nil, err
	}
	out := IndicatorValueView{
		ID:        reg.ID,
		Handle:    int(handle),
		Kind:      string(reg.Kind),
		Symbol:    reg.Symbol,
		Timeframe: reg.Timeframe.String(),
		Buffer:    int(buffer),
		Values:    make([]*float64, len(values)),
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out.Values[i] = &v
	}
	return out, nil
}

// AccountView is the get_account_info result.
type AccountView struct {
	Login        int64   `json:"login"`
	Name         string  `json:"name"`
	Server       string  `json:"server"`
	Company      string  `json:"company"`
	Currency     string  `json:"currency"`
	Leverage     int     `json:"leverage"`
	TradeAllowed bool    `json:"tradeAllowed"`
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`
	Profit       float64 `json:"profit"`
}

// AccountInfo serves get_account_info.
func (m *Manager) AccountInfo(context.Context, dispatcher.Request) (any, error) {
	acct := m.term.Account()
	return AccountView{
		Login:        acct.Login,
		Name:         acct.Name,
		Server:       acct.Server,
		Company:      acct.Company,
		Currency:     acct.Currency,
		Leverage:     acct.Leverage,
		TradeAllowed: acct.TradeAllowed,
		Balance:      round(acct.Balance, moneyDigits),
		Equity:       round(acct.Equity, moneyDigits),
		Profit:       round(acct.Profit, moneyDigits),
	}, nil
}

// BalanceView is the get_balance result.
type BalanceView struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	Time     string  `json:"time"`
}

// Balance serves get_balance.
func (m *Manager) Balance(context.Context, dispatcher.Request) (any, error) {
	acct := m.term.Account()
	return BalanceView{
		Balance:  round(acct.Balance, moneyDigits),
		Currency: acct.Currency,
		Time:     protocol.FormatTime(m.now()),
	}, nil
}

// EquityView is the get_equity result.
type EquityView struct {
	Equity   float64 `json:"equity"`
	Profit   float64 `json:"profit"`
	Currency string  `json:"currency"`
	Time     string  `json:"time"`
}

// Equity serves get_equity.
func (m *Manager) Equity(context.Context, dispatcher.Request) (any, error) {
	acct := m.term.Account()
	return EquityView{
		Equity:   round(acct.Equity, moneyDigits),
		Profit:   round(acct.Profit, moneyDigits),
		Currency: acct.Currency,
		Time:     protocol.FormatTime(m.now()),
	}, nil
}

// MarginView is the get_margin result.
type MarginView struct {
	Margin       float64 `json:"margin"`
	FreeMargin   float64 `json:"freeMargin"`
	MarginLevel  float64 `json:"marginLevel"`
	StopOutLevel float64 `json:"stopOutLevel"`
	Currency     string  `json:"currency"`
	Time         string  `json:"time"`
}

// Margin serves get_margin.
func (m *Manager) Margin(context.Context, dispatcher.Request) (any, error) {
	acct := m.term.Account()
	return MarginView{
		Margin:       round(acct.Margin, moneyDigits),
		FreeMargin:   round(acct.MarginFree, moneyDigits),
		MarginLevel:  round(acct.MarginLevel, moneyDigits),
		StopOutLevel: acct.StopOutLevel,
		Currency:     acct.Currency,
		Time:         protocol.FormatTime(m.now()),
	}, nil
}
