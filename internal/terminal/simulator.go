package terminal

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
)

// SimOption customises a Simulator.
type SimOption func(*Simulator)

// WithSimClock overrides the simulator's time source.
func WithSimClock(now func() time.Time) SimOption {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChart sets the active chart symbol and period.
func WithChart(symbol string, tf Timeframe) SimOption {
	return func(s *Simulator) {
		if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
			s.chartSymbol = sym
		}
		if tf != TimeframeCurrent {
			s.chartPeriod = tf
		}
	}
}

// WithLogin sets the account login when the seed leaves it unset.
func WithLogin(login int64) SimOption {
	return func(s *Simulator) {
		if s.account.Login == 0 {
			s.account.Login = login
		}
	}
}

type simSymbol struct {
	info  SymbolInfo
	base  float64
	phase float64
}

type simPosition struct {
	Position
	margin decimal.Decimal
}

// Simulator is an in-memory terminal with synthetic, deterministic prices.
// It is not safe for concurrent use.
type Simulator struct {
	now  func() time.Time
	seed int64

	symbols   map[string]*simSymbol
	order     []string
	overrides map[string]float64

	account     AccountInfo
	balance     decimal.Decimal
	chartSymbol string
	chartPeriod Timeframe
	chartLocked bool

	orders     map[uint64]*Order
	positions  map[uint64]*simPosition
	nextTicket uint64
	nextDeal   uint64
	rejectNext Retcode

	indicators map[Handle]IndicatorSpec
	nextHandle Handle
}

// NewSimulator builds a simulator from the terminal seed configuration.
func NewSimulator(cfg config.TerminalConfig, opts ...SimOption) *Simulator {
	s := &Simulator{
		now:       time.Now,
		seed:      cfg.Seed,
		symbols:   make(map[string]*simSymbol, len(cfg.Symbols)),
		overrides: make(map[string]float64),
		account: AccountInfo{
			Login:        cfg.Account.Login,
			Name:         cfg.Account.Name,
			Server:       cfg.Account.Server,
			Company:      cfg.Account.Company,
			Currency:     strings.ToUpper(cfg.Account.Currency),
			Leverage:     cfg.Account.Leverage,
			StopOutLevel: cfg.Account.StopOutLevel,
			TradeAllowed: true,
		},
		balance:     decimal.NewFromFloat(cfg.Account.Balance),
		chartPeriod: H1,
		orders:      make(map[uint64]*Order),
		positions:   make(map[uint64]*simPosition),
		nextTicket:  100000,
		nextDeal:    500000,
		indicators:  make(map[Handle]IndicatorSpec),
		nextHandle:  10,
	}
	if s.account.Leverage <= 0 {
		s.account.Leverage = 100
	}
	if s.account.Currency == "" {
		s.account.Currency = "USD"
	}
	for _, seed := range cfg.Symbols {
		sym := newSimSymbol(seed, cfg.Seed, s.account.Currency)
		if _, dup := s.symbols[sym.info.Name]; dup {
			continue
		}
		s.symbols[sym.info.Name] = sym
		s.order = append(s.order, sym.info.Name)
	}
	if len(s.order) > 0 {
		s.chartSymbol = s.order[0]
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func newSimSymbol(seed config.SymbolSeed, rngSeed int64, accountCcy string) *simSymbol {
	name := strings.ToUpper(strings.TrimSpace(seed.Name))
	digits := seed.Digits
	if digits < 0 {
		digits = 0
	}
	base, profit := name, accountCcy
	if len(name) == 6 {
		base, profit = name[:3], name[3:]
	}
	info := SymbolInfo{
		Name:           name,
		Description:    seed.Description,
		CurrencyBase:   base,
		CurrencyProfit: profit,
		Digits:         digits,
		Point:          math.Pow10(-digits),
		SpreadPoints:   seed.SpreadPoints,
		ContractSize:   orDefault(seed.ContractSize, 100000),
		VolumeMin:      orDefault(seed.VolumeMin, 0.01),
		VolumeMax:      orDefault(seed.VolumeMax, 100),
		VolumeStep:     orDefault(seed.VolumeStep, 0.01),
		StopsLevel:     seed.StopsLevel,
	}
	return &simSymbol{
		info:  info,
		base:  seed.Bid,
		phase: unit(rngSeed, name, 0, 0) * math.Pi,
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// unit returns a deterministic pseudo-random value in [-1, 1].
func unit(seed int64, symbol string, tf int, bucket int64) float64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d|%s|%d|%d", seed, symbol, tf, bucket)
	return float64(h.Sum64()%2001)/1000 - 1
}

func round(v float64, digits int) float64 {
	return decimal.NewFromFloat(v).Round(int32(digits)).InexactFloat64()
}

// priceAt is the synthetic mid-path of a symbol: three overlapping waves
// around the seeded price.
func (sym *simSymbol) priceAt(t time.Time) float64 {
	x := float64(t.Unix())
	w := 0.004*math.Sin(2*math.Pi*x/(3.7*86400)+sym.phase) +
		0.0015*math.Sin(2*math.Pi*x/(5.3*3600)+2*sym.phase) +
		0.0004*math.Sin(2*math.Pi*x/(7.1*60)+3*sym.phase)
	return sym.base * (1 + w)
}

func (s *Simulator) lookup(name string) (*simSymbol, bool) {
	sym, ok := s.symbols[strings.ToUpper(strings.TrimSpace(name))]
	return sym, ok
}

// Symbol returns the instrument description.
func (s *Simulator) Symbol(name string) (SymbolInfo, bool) {
	sym, ok := s.lookup(name)
	if !ok {
		return SymbolInfo{}, false
	}
	return sym.info, true
}

// Symbols lists configured instruments in seed order.
func (s *Simulator) Symbols() []string {
	return append([]string(nil), s.order...)
}

// SetPrice pins the bid of a symbol. Zero releases the pin.
func (s *Simulator) SetPrice(symbol string, bid float64) error {
	sym, ok := s.lookup(symbol)
	if !ok {
		return RuntimeError("terminal/price", ErrUnknownSymbol)
	}
	if bid <= 0 {
		delete(s.overrides, sym.info.Name)
		return nil
	}
	s.overrides[sym.info.Name] = bid
	return nil
}

// Tick returns the latest quote.
func (s *Simulator) Tick(symbol string) (Tick, error) {
	sym, ok := s.lookup(symbol)
	if !ok {
		return Tick{}, RuntimeError("terminal/tick", ErrUnknownSymbol)
	}
	return s.tick(sym), nil
}

func (s *Simulator) tick(sym *simSymbol) Tick {
	now := s.now()
	bid, pinned := s.overrides[sym.info.Name]
	if !pinned {
		bid = sym.priceAt(now)
	}
	bid = round(bid, sym.info.Digits)
	ask := round(bid+float64(sym.info.SpreadPoints)*sym.info.Point, sym.info.Digits)
	return Tick{Time: now, Bid: bid, Ask: ask, Last: bid}
}

// MaxHistory is the deepest bar the simulator serves.
const MaxHistory = 100_000

// Rates returns count bars starting start bars back from the forming bar,
// most recent first.
func (s *Simulator) Rates(symbol string, tf Timeframe, start, count int) ([]Bar, error) {
	sym, ok := s.lookup(symbol)
	if !ok {
		return nil, RuntimeError("terminal/rates", ErrUnknownSymbol)
	}
	if tf == TimeframeCurrent {
		tf = s.chartPeriod
	}
	if _, known := timeframeNames[tf]; !known || start < 0 || count <= 0 || start+count > MaxHistory {
		return nil, RuntimeError("terminal/rates", ErrHistoryNotFound)
	}
	now := s.now()
	dur := tf.Duration()
	current := now.Truncate(dur)
	bars := make([]Bar, 0, count)
	for i := start; i < start+count; i++ {
		open := current.Add(-time.Duration(i) * dur)
		bars = append(bars, s.bar(sym, tf, open, i == 0, now))
	}
	return bars, nil
}

func (s *Simulator) bar(sym *simSymbol, tf Timeframe, open time.Time, forming bool, now time.Time) Bar {
	dur := tf.Duration()
	end := open.Add(dur - time.Second)
	if forming {
		end = now
	}
	o := sym.priceAt(open)
	c := sym.priceAt(end)
	m := sym.priceAt(open.Add(end.Sub(open) / 2))
	bucket := open.Unix()
	wick := sym.base * 0.0003 * math.Sqrt(float64(tf))
	high := math.Max(math.Max(o, c), m) + math.Abs(unit(s.seed, sym.info.Name, int(tf), bucket))*wick
	low := math.Min(math.Min(o, c), m) - math.Abs(unit(s.seed, sym.info.Name, int(tf), -bucket))*wick
	volume := int64(50 + (unit(s.seed, sym.info.Name, int(tf), bucket+1)+1)*250*math.Sqrt(float64(tf)))
	d := sym.info.Digits
	return Bar{
		Time:       open,
		Open:       round(o, d),
		High:       round(high, d),
		Low:        round(low, d),
		Close:      round(c, d),
		TickVolume: volume,
		Spread:     sym.info.SpreadPoints,
	}
}

// ChartSymbol returns the symbol of the active chart.
func (s *Simulator) ChartSymbol() string { return s.chartSymbol }

// ChartPeriod returns the period of the active chart.
func (s *Simulator) ChartPeriod() Timeframe { return s.chartPeriod }

// LockChart makes subsequent period changes fail, as a chart owned by
// another program would.
func (s *Simulator) LockChart(locked bool) { s.chartLocked = locked }

// SetChartPeriod changes the active chart period.
func (s *Simulator) SetChartPeriod(tf Timeframe) error {
	if _, known := timeframeNames[tf]; !known || tf == TimeframeCurrent {
		return RuntimeError("terminal/chart", ErrChartWrongParameter)
	}
	if s.chartLocked {
		return RuntimeError("terminal/chart", ErrChartCannotChange)
	}
	s.chartPeriod = tf
	return nil
}

// Account returns the account state valued at current prices.
func (s *Simulator) Account() AccountInfo {
	profit := decimal.Zero
	margin := decimal.Zero
	for _, p := range s.positions {
		profit = profit.Add(s.floating(p))
		margin = margin.Add(p.margin)
	}
	equity := s.balance.Add(profit)
	info := s.account
	info.Balance = s.balance.Round(2).InexactFloat64()
	info.Profit = profit.Round(2).InexactFloat64()
	info.Equity = equity.Round(2).InexactFloat64()
	info.Margin = margin.Round(2).InexactFloat64()
	info.MarginFree = equity.Sub(margin).Round(2).InexactFloat64()
	if margin.IsPositive() {
		info.MarginLevel = equity.Div(margin).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}
	return info
}

// SetBalance overrides the account balance.
func (s *Simulator) SetBalance(balance float64) {
	s.balance = decimal.NewFromFloat(balance)
}

// Orders lists pending orders by ticket.
func (s *Simulator) Orders() []Order {
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// OrderByTicket resolves a pending order.
func (s *Simulator) OrderByTicket(ticket uint64) (Order, bool) {
	o, ok := s.orders[ticket]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Positions lists open positions by ticket, valued at current prices.
func (s *Simulator) Positions() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, s.snapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// PositionByTicket resolves an open position.
func (s *Simulator) PositionByTicket(ticket uint64) (Position, bool) {
	p, ok := s.positions[ticket]
	if !ok {
		return Position{}, false
	}
	return s.snapshot(p), true
}

func (s *Simulator) snapshot(p *simPosition) Position {
	out := p.Position
	if sym, ok := s.lookup(p.Symbol); ok {
		out.PriceCurrent = s.closePrice(sym, p.Type)
	}
	out.Profit = s.floating(p).Round(2).InexactFloat64()
	return out
}

// closePrice is the price a position of type t would close at.
func (s *Simulator) closePrice(sym *simSymbol, t OrderType) float64 {
	tick := s.tick(sym)
	if t.IsBuy() {
		return tick.Bid
	}
	return tick.Ask
}

func (s *Simulator) floating(p *simPosition) decimal.Decimal {
	sym, ok := s.lookup(p.Symbol)
	if !ok {
		return decimal.Zero
	}
	return s.profit(sym, p.Type, p.Volume, p.PriceOpen, s.closePrice(sym, p.Type))
}

// profit values a move from open to closing price in the account currency.
func (s *Simulator) profit(sym *simSymbol, t OrderType, volume, open, closing float64) decimal.Decimal {
	move := decimal.NewFromFloat(closing).Sub(decimal.NewFromFloat(open))
	if !t.IsBuy() {
		move = move.Neg()
	}
	amount := move.Mul(decimal.NewFromFloat(volume)).Mul(decimal.NewFromFloat(sym.info.ContractSize))
	switch {
	case sym.info.CurrencyProfit == s.account.Currency:
		return amount
	case sym.info.CurrencyBase == s.account.Currency && closing > 0:
		return amount.Div(decimal.NewFromFloat(closing))
	default:
		return amount
	}
}

// marginFor is the margin in account currency for volume lots at price.
func (s *Simulator) marginFor(sym *simSymbol, volume, price float64) decimal.Decimal {
	notional := decimal.NewFromFloat(volume).Mul(decimal.NewFromFloat(sym.info.ContractSize))
	if sym.info.CurrencyBase != s.account.Currency {
		notional = notional.Mul(decimal.NewFromFloat(price))
	}
	return notional.Div(decimal.NewFromInt(int64(s.account.Leverage)))
}

// RejectNext makes the next trade request fail with code.
func (s *Simulator) RejectNext(code Retcode) { s.rejectNext = code }

// CreateIndicator registers an indicator computation and returns its handle.
func (s *Simulator) CreateIndicator(spec IndicatorSpec) (Handle, error) {
	const op = "terminal/indicator"
	sym, ok := s.lookup(spec.Symbol)
	if !ok {
		return InvalidHandle, RuntimeError(op, ErrIndicatorUnknownSym)
	}
	want, known := indicatorParams[spec.Kind]
	if !known {
		return InvalidHandle, RuntimeError(op, ErrIndicatorCannotCreate)
	}
	if len(spec.Params) > want {
		return InvalidHandle, RuntimeError(op, ErrIndicatorWrongParams)
	}
	if len(spec.Params) > 0 && spec.Params[0] <= 0 {
		return InvalidHandle, RuntimeError(op, ErrIndicatorCannotCreate)
	}
	for _, p := range spec.Params {
		if p > MaxHistory || p < -MaxHistory {
			return InvalidHandle, RuntimeError(op, ErrIndicatorCannotCreate)
		}
	}
	if lookback(spec) >= MaxHistory {
		return InvalidHandle, RuntimeError(op, ErrIndicatorCannotCreate)
	}
	if spec.Timeframe == TimeframeCurrent {
		spec.Timeframe = s.chartPeriod
	}
	if _, ok := timeframeNames[spec.Timeframe]; !ok {
		return InvalidHandle, RuntimeError(op, ErrIndicatorCannotCreate)
	}
	spec.Symbol = sym.info.Name
	spec.Params = append([]float64(nil), spec.Params...)
	h := s.nextHandle
	s.nextHandle++
	s.indicators[h] = spec
	return h, nil
}

// ReleaseIndicator frees a handle. It reports whether the handle existed.
func (s *Simulator) ReleaseIndicator(h Handle) bool {
	if _, ok := s.indicators[h]; !ok {
		return false
	}
	delete(s.indicators, h)
	return true
}

// IndicatorValid reports whether h refers to a live computation.
func (s *Simulator) IndicatorValid(h Handle) bool {
	_, ok := s.indicators[h]
	return ok
}

// IndicatorCount returns the number of live handles.
func (s *Simulator) IndicatorCount() int { return len(s.indicators) }

// IndicatorBuffer copies count values of one buffer starting start bars back,
// most recent first. Values without enough history are NaN.
func (s *Simulator) IndicatorBuffer(h Handle, buffer, start, count int) ([]float64, error) {
	const op = "terminal/indicator"
	spec, ok := s.indicators[h]
	if !ok {
		return nil, RuntimeError(op, ErrIndicatorWrongHandle)
	}
	if buffer < 0 || buffer >= indicatorBuffers[spec.Kind] || start < 0 || count <= 0 ||
		start+count+lookback(spec) > MaxHistory {
		return nil, RuntimeError(op, ErrIndicatorNoData)
	}
	total := start + count + lookback(spec)
	series, err := s.Rates(spec.Symbol, spec.Timeframe, 0, total)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, len(series))
	for i, b := range series {
		bars[len(series)-1-i] = b
	}
	line := compute(spec, bars)[buffer]
	out := make([]float64, 0, count)
	for i := start; i < start+count; i++ {
		out = append(out, line[len(line)-1-i])
	}
	return out, nil
}

// Send executes a trade request.
func (s *Simulator) Send(ctx context.Context, req TradeRequest) (TradeResult, error) {
	if err := ctx.Err(); err != nil {
		return TradeResult{}, err
	}
	if code := s.rejectNext; code != 0 {
		s.rejectNext = 0
		return result(code), nil
	}
	switch req.Action {
	case ActionDeal:
		if req.Position != 0 {
			return s.closePosition(req), nil
		}
		return s.openPosition(req), nil
	case ActionPending:
		return s.placeOrder(req), nil
	case ActionSLTP:
		return s.modifyPosition(req), nil
	case ActionModify:
		return s.modifyOrder(req), nil
	case ActionRemove:
		return s.removeOrder(req), nil
	default:
		return result(RetcodeInvalid), nil
	}
}

func result(code Retcode) TradeResult {
	return TradeResult{Retcode: code, Comment: code.Description()}
}
