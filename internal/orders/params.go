package orders

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

func requireSymbol(op string, p protocol.Fields) (string, error) {
	symbol, _ := p.String("symbol")
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", errs.Invalid(op, "symbol is required")
	}
	return symbol, nil
}

func requireTicket(op string, p protocol.Fields) (uint64, error) {
	if !p.Has("ticket") {
		return 0, errs.Invalid(op, "ticket is required")
	}
	ticket, ok := p.Int("ticket")
	if !ok || ticket <= 0 {
		return 0, errs.Invalid(op, "ticket must be a positive integer")
	}
	return uint64(ticket), nil
}

// optionalFloat reads key when present. Absent and null both report false.
func optionalFloat(op string, p protocol.Fields, key string) (float64, bool, error) {
	if !p.Has(key) {
		return 0, false, nil
	}
	v, ok := p.Float(key)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, errs.Invalid(op, "%s must be a number", key)
	}
	return v, true, nil
}

// optionalLevel reads a stop level; zero clears it.
func optionalLevel(op string, p protocol.Fields, key string) (float64, bool, error) {
	v, ok, err := optionalFloat(op, p, key)
	if err != nil {
		return 0, false, err
	}
	if v < 0 {
		return 0, false, errs.Invalid(op, "%s must not be negative", key)
	}
	return v, ok, nil
}

func orderTypeParam(op string, p protocol.Fields) (terminal.OrderType, error) {
	text, ok := p.String("orderType")
	if !ok {
		text, ok = p.String("order_type")
	}
	if !ok || strings.TrimSpace(text) == "" {
		return 0, errs.Invalid(op, "orderType is required")
	}
	t, ok := terminal.ParseOrderType(text)
	if !ok {
		return 0, errs.Invalid(op, "unsupported order type: %s", text)
	}
	return t, nil
}

// normalizePrice rounds to the symbol's digits. Zero stays zero.
func normalizePrice(info terminal.SymbolInfo, v float64) float64 {
	if v == 0 {
		return 0
	}
	return decimal.NewFromFloat(v).Round(int32(info.Digits)).InexactFloat64()
}

// normalizeVolume truncates to a whole number of volume steps.
func normalizeVolume(info terminal.SymbolInfo, v float64) float64 {
	step := decimal.NewFromFloat(info.VolumeStep)
	if !step.IsPositive() {
		return v
	}
	return decimal.NewFromFloat(v).Div(step).Floor().Mul(step).InexactFloat64()
}

func opposite(t terminal.OrderType) terminal.OrderType {
	if t.IsBuy() {
		return terminal.OrderSell
	}
	return terminal.OrderBuy
}
