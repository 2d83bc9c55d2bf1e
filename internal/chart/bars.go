package chart

import (
	"strings"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// BarView is the wire form of one OHLCV bar.
type BarView struct {
	Time       string  `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tickVolume"`
	Spread     int     `json:"spread"`
	RealVolume int64   `json:"realVolume"`
}

// SeriesView is a symbol's bars, most recent first.
type SeriesView struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Bars      []BarView `json:"bars"`
}

// RatesSource reads bar history.
type RatesSource interface {
	Symbol(name string) (terminal.SymbolInfo, bool)
	ChartSymbol() string
	ChartPeriod() terminal.Timeframe
	Rates(symbol string, tf terminal.Timeframe, start, count int) ([]terminal.Bar, error)
}

// ClampBars reads key as a bar count. Missing or out-of-range values become
// DefaultBars, and the result never exceeds max.
func ClampBars(p protocol.Fields, key string, max int) int {
	n, ok := p.Int(key)
	if !ok || n < 1 || n > int64(max) {
		n = DefaultBars
	}
	if n > int64(max) {
		n = int64(max)
	}
	return int(n)
}

// SymbolParam reads key as a symbol name, falling back to the active chart
// symbol, and checks that the terminal knows it.
func SymbolParam(op string, src RatesSource, p protocol.Fields, key string) (terminal.SymbolInfo, error) {
	name, _ := p.String(key)
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		name = src.ChartSymbol()
	}
	info, ok := src.Symbol(name)
	if !ok {
		return terminal.SymbolInfo{}, errs.Invalid(op, "unknown symbol: %s", name)
	}
	return info, nil
}

// TimeframeParam reads key as a timeframe, falling back to the active chart
// period.
func TimeframeParam(op string, src RatesSource, p protocol.Fields, key string) (terminal.Timeframe, error) {
	text, ok := p.String(key)
	if !ok || strings.TrimSpace(text) == "" {
		return src.ChartPeriod(), nil
	}
	tf, ok := terminal.ParseTimeframe(text)
	if !ok {
		return 0, errs.Invalid(op, "unsupported timeframe: %s", text)
	}
	if tf == terminal.TimeframeCurrent {
		tf = src.ChartPeriod()
	}
	return tf, nil
}

// LoadSeries reads count bars of symbol, most recent first.
func LoadSeries(src RatesSource, symbol string, tf terminal.Timeframe, count int) (SeriesView, error) {
	bars, err := src.Rates(symbol, tf, 0, count)
	if err != nil {
		return SeriesView{}, err
	}
	out := SeriesView{Symbol: symbol, Timeframe: tf.String(), Bars: make([]BarView, 0, len(bars))}
	for _, b := range bars {
		out.Bars = append(out.Bars, BarView{
			Time:       protocol.FormatTime(b.Time),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			TickVolume: b.TickVolume,
			Spread:     b.Spread,
			RealVolume: b.RealVolume,
		})
	}
	return out, nil
}
