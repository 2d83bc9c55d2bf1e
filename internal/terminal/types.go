// Package terminal models the trading terminal the bridge drives: its
// instruments, account, orders, positions and indicator handles. The
// Simulator type implements the terminal in memory.
package terminal

import (
	"strconv"
	"strings"
	"time"
)

// OrderType enumerates order and position directions.
type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderBuyLimit
	OrderSellLimit
	OrderBuyStop
	OrderSellStop
	OrderBuyStopLimit
	OrderSellStopLimit
)

var orderTypeNames = [...]string{
	OrderBuy:           "BUY",
	OrderSell:          "SELL",
	OrderBuyLimit:      "BUY_LIMIT",
	OrderSellLimit:     "SELL_LIMIT",
	OrderBuyStop:       "BUY_STOP",
	OrderSellStop:      "SELL_STOP",
	OrderBuyStopLimit:  "BUY_STOP_LIMIT",
	OrderSellStopLimit: "SELL_STOP_LIMIT",
}

func (t OrderType) String() string {
	if t < 0 || int(t) >= len(orderTypeNames) {
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
	return orderTypeNames[t]
}

// ParseOrderType accepts BUY_LIMIT, buy_limit or ORDER_TYPE_BUY_LIMIT.
func ParseOrderType(s string) (OrderType, bool) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "ORDER_TYPE_")
	for i, candidate := range orderTypeNames {
		if candidate == name {
			return OrderType(i), true
		}
	}
	return 0, false
}

// IsMarket reports whether the type executes immediately.
func (t OrderType) IsMarket() bool { return t == OrderBuy || t == OrderSell }

// IsBuy reports whether the type opens or represents a long exposure.
func (t OrderType) IsBuy() bool {
	switch t {
	case OrderBuy, OrderBuyLimit, OrderBuyStop, OrderBuyStopLimit:
		return true
	default:
		return false
	}
}

// IsStopLimit reports whether the type carries a separate limit price.
func (t OrderType) IsStopLimit() bool {
	return t == OrderBuyStopLimit || t == OrderSellStopLimit
}

// Timeframe is a chart period in minutes. TimeframeCurrent selects the
// active chart period.
type Timeframe int

const (
	TimeframeCurrent Timeframe = 0
	M1               Timeframe = 1
	M2               Timeframe = 2
	M3               Timeframe = 3
	M4               Timeframe = 4
	M5               Timeframe = 5
	M6               Timeframe = 6
	M10              Timeframe = 10
	M12              Timeframe = 12
	M15              Timeframe = 15
	M20              Timeframe = 20
	M30              Timeframe = 30
	H1               Timeframe = 60
	H2               Timeframe = 120
	H3               Timeframe = 180
	H4               Timeframe = 240
	H6               Timeframe = 360
	H8               Timeframe = 480
	H12              Timeframe = 720
	D1               Timeframe = 1440
	W1               Timeframe = 10080
	MN1              Timeframe = 43200
)

var timeframeNames = map[Timeframe]string{
	TimeframeCurrent: "CURRENT",
	M1:               "M1", M2: "M2", M3: "M3", M4: "M4", M5: "M5", M6: "M6",
	M10: "M10", M12: "M12", M15: "M15", M20: "M20", M30: "M30",
	H1: "H1", H2: "H2", H3: "H3", H4: "H4", H6: "H6", H8: "H8", H12: "H12",
	D1: "D1", W1: "W1", MN1: "MN1",
}

func (tf Timeframe) String() string {
	if name, ok := timeframeNames[tf]; ok {
		return name
	}
	return "M" + strconv.Itoa(int(tf))
}

// ParseTimeframe accepts H1, PERIOD_H1, CURRENT, or a minute count.
func ParseTimeframe(s string) (Timeframe, bool) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "PERIOD_")
	for tf, candidate := range timeframeNames {
		if candidate == name {
			return tf, true
		}
	}
	if minutes, err := strconv.Atoi(name); err == nil {
		if _, ok := timeframeNames[Timeframe(minutes)]; ok {
			return Timeframe(minutes), true
		}
	}
	return 0, false
}

// Duration returns the bar length. Months are treated as 30 days.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf) * time.Minute
}

// Bar is one OHLCV candle.
type Bar struct {
	Time       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	TickVolume int64
	Spread     int
	RealVolume int64
}

// Tick is the latest quote of a symbol.
type Tick struct {
	Time time.Time
	Bid  float64
	Ask  float64
	Last float64
}

// SymbolInfo describes a tradable instrument.
type SymbolInfo struct {
	Name           string
	Description    string
	CurrencyBase   string
	CurrencyProfit string
	Digits         int
	Point          float64
	SpreadPoints   int
	ContractSize   float64
	VolumeMin      float64
	VolumeMax      float64
	VolumeStep     float64
	StopsLevel     int
}

// AccountInfo is the trading account state.
type AccountInfo struct {
	Login        int64
	Name         string
	Server       string
	Company      string
	Currency     string
	Leverage     int
	Balance      float64
	Equity       float64
	Profit       float64
	Margin       float64
	MarginFree   float64
	MarginLevel  float64
	StopOutLevel float64
	TradeAllowed bool
}

// Order is a pending order.
type Order struct {
	Ticket    uint64
	Symbol    string
	Type      OrderType
	Volume    float64
	Price     float64
	StopLimit float64
	SL        float64
	TP        float64
	Time      time.Time
	Comment   string
	Magic     int64
}

// Position is an open position.
type Position struct {
	Ticket       uint64
	Symbol       string
	Type         OrderType
	Volume       float64
	PriceOpen    float64
	PriceCurrent float64
	SL           float64
	TP           float64
	Profit       float64
	Swap         float64
	Time         time.Time
	Comment      string
	Magic        int64
}

// TradeAction selects what a TradeRequest does.
type TradeAction int

const (
	// ActionDeal executes at market: opens, or closes when Position is set.
	ActionDeal TradeAction = iota
	// ActionPending places a pending order.
	ActionPending
	// ActionSLTP changes the stops of an open position.
	ActionSLTP
	// ActionModify changes a pending order.
	ActionModify
	// ActionRemove deletes a pending order.
	ActionRemove
)

func (a TradeAction) String() string {
	switch a {
	case ActionDeal:
		return "deal"
	case ActionPending:
		return "pending"
	case ActionSLTP:
		return "sltp"
	case ActionModify:
		return "modify"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// TradeRequest is a single trading instruction.
type TradeRequest struct {
	Action    TradeAction
	Symbol    string
	Type      OrderType
	Volume    float64
	Price     float64
	StopLimit float64
	SL        float64
	TP        float64
	Deviation int
	Magic     int64
	Comment   string
	Order     uint64
	Position  uint64
}

// TradeResult is the terminal's answer to a TradeRequest.
type TradeResult struct {
	Retcode Retcode
	Deal    uint64
	Order   uint64
	Volume  float64
	Price   float64
	Comment string
}

// Handle references an indicator computation held by the terminal.
type Handle int64

// InvalidHandle is never issued.
const InvalidHandle Handle = -1

// IndicatorKind names a built-in indicator.
type IndicatorKind string

const (
	IndicatorMA         IndicatorKind = "MA"
	IndicatorRSI        IndicatorKind = "RSI"
	IndicatorMACD       IndicatorKind = "MACD"
	IndicatorBands      IndicatorKind = "BANDS"
	IndicatorStochastic IndicatorKind = "STOCHASTIC"
)

// IndicatorSpec describes an indicator to create. Params are positional.
type IndicatorSpec struct {
	Kind      IndicatorKind
	Symbol    string
	Timeframe Timeframe
	Params    []float64
}
