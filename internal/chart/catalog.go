package chart

import (
	"math"
	"strconv"
	"strings"

	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// Param is one positional indicator parameter. History parameters size the
// bar window the indicator reads and are capped at the configured bar limit.
type Param struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
	History bool    `json:"-"`
}

func periodParam(name string, def float64) Param {
	return Param{Name: name, Default: def, Min: 1, Integer: true, History: true}
}

func shiftParam() Param {
	return Param{Name: "shift", Default: 0, Min: 0, Integer: true, History: true}
}

func methodParam() Param {
	return Param{Name: "method", Default: terminal.MethodSMA, Min: terminal.MethodSMA, Max: terminal.MethodLWMA, Integer: true}
}

func priceParam() Param {
	return Param{Name: "appliedPrice", Default: terminal.PriceClose, Min: terminal.PriceClose, Max: terminal.PriceWeighted, Integer: true}
}

var catalog = map[terminal.IndicatorKind][]Param{
	terminal.IndicatorMA:  {periodParam("period", 14), shiftParam(), methodParam(), priceParam()},
	terminal.IndicatorRSI: {periodParam("period", 14), priceParam()},
	terminal.IndicatorMACD: {
		periodParam("fastPeriod", 12),
		periodParam("slowPeriod", 26),
		periodParam("signalPeriod", 9),
		priceParam(),
	},
	terminal.IndicatorBands: {
		periodParam("period", 20),
		shiftParam(),
		{Name: "deviation", Default: 2, Min: 0.01, Max: 100},
		priceParam(),
	},
	terminal.IndicatorStochastic: {
		periodParam("kPeriod", 5),
		periodParam("dPeriod", 3),
		periodParam("slowing", 3),
		methodParam(),
		{Name: "priceField", Default: 0, Min: 0, Max: 1, Integer: true},
	},
}

var kindAliases = map[string]terminal.IndicatorKind{
	"MA":          terminal.IndicatorMA,
	"IMA":         terminal.IndicatorMA,
	"RSI":         terminal.IndicatorRSI,
	"IRSI":        terminal.IndicatorRSI,
	"MACD":        terminal.IndicatorMACD,
	"IMACD":       terminal.IndicatorMACD,
	"BANDS":       terminal.IndicatorBands,
	"BOLLINGER":   terminal.IndicatorBands,
	"IBANDS":      terminal.IndicatorBands,
	"STOCHASTIC":  terminal.IndicatorStochastic,
	"STOCH":       terminal.IndicatorStochastic,
	"ISTOCHASTIC": terminal.IndicatorStochastic,
}

// ParseKind resolves an indicator name against the catalog.
func ParseKind(s string) (terminal.IndicatorKind, bool) {
	kind, ok := kindAliases[strings.ToUpper(strings.TrimSpace(s))]
	return kind, ok
}

// Schema returns the parameter schema of kind with history parameters
// bounded by maxBars.
func Schema(kind terminal.IndicatorKind, maxBars int) []Param {
	schema := catalog[kind]
	out := make([]Param, len(schema))
	for i, p := range schema {
		if p.History {
			p.Max = float64(maxBars)
		}
		out[i] = p
	}
	return out
}

// Kinds lists the catalog in a stable order.
func Kinds() []terminal.IndicatorKind {
	return []terminal.IndicatorKind{
		terminal.IndicatorMA,
		terminal.IndicatorRSI,
		terminal.IndicatorMACD,
		terminal.IndicatorBands,
		terminal.IndicatorStochastic,
	}
}

// parseParameters accepts an array, a comma-separated string or a single
// number. Empty positions in a string fall back to the default.
func parseParameters(op string, v protocol.Value) ([]*float64, error) {
	var items []string
	switch v.Kind {
	case protocol.KindMissing:
		return nil, nil
	case protocol.KindArray:
		parts, err := protocol.SplitArray(v.Text)
		if err != nil {
			return nil, errs.Invalid(op, "parameters must be an array of numbers")
		}
		items = parts
	case protocol.KindString:
		if strings.TrimSpace(v.Text) == "" {
			return nil, nil
		}
		items = strings.Split(v.Text, ",")
	case protocol.KindScalar:
		if v.IsNull() {
			return nil, nil
		}
		items = []string{v.Text}
	default:
		return nil, errs.Invalid(op, "parameters must be an array of numbers")
	}

	out := make([]*float64, 0, len(items))
	for i, item := range items {
		item = strings.Trim(strings.TrimSpace(item), `"`)
		if item == "" || item == "null" {
			out = append(out, nil)
			continue
		}
		n, err := strconv.ParseFloat(item, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, errs.Invalid(op, "parameter %d is not a number: %s", i+1, item)
		}
		out = append(out, &n)
	}
	return out, nil
}

// resolveParameters applies the catalog defaults to omitted positions and
// checks every value against its bounds.
func resolveParameters(op string, kind terminal.IndicatorKind, supplied []*float64, maxBars int) ([]float64, error) {
	schema := Schema(kind, maxBars)
	if len(supplied) > len(schema) {
		return nil, errs.Invalid(op, "%s takes at most %d parameters, got %d", kind, len(schema), len(supplied))
	}
	out := make([]float64, len(schema))
	for i, p := range schema {
		out[i] = p.Default
		if i < len(supplied) && supplied[i] != nil {
			out[i] = *supplied[i]
		}
	}
	for i, p := range schema {
		v := out[i]
		if v < p.Min || v > p.Max {
			return nil, errs.Invalid(op, "%s %s must be between %g and %g, got %g", kind, p.Name, p.Min, p.Max, v)
		}
		if p.Integer && v != math.Trunc(v) {
			return nil, errs.Invalid(op, "%s %s must be a whole number, got %g", kind, p.Name, v)
		}
	}
	return out, nil
}
