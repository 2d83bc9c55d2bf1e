package terminal

import (
	"github.com/shopspring/decimal"
)

func (s *Simulator) ticket() uint64 {
	s.nextTicket++
	return s.nextTicket
}

func (s *Simulator) deal() uint64 {
	s.nextDeal++
	return s.nextDeal
}

func validVolume(info SymbolInfo, volume float64) bool {
	if volume < info.VolumeMin || volume > info.VolumeMax {
		return false
	}
	step := decimal.NewFromFloat(info.VolumeStep)
	if !step.IsPositive() {
		return true
	}
	return decimal.NewFromFloat(volume).Mod(step).IsZero()
}

// validStops checks sl/tp against the reference price a position of the
// given direction would close at. Zero means no stop.
func validStops(info SymbolInfo, buy bool, ref, sl, tp float64) bool {
	dist := float64(info.StopsLevel) * info.Point
	if buy {
		if sl != 0 && sl > ref-dist {
			return false
		}
		if tp != 0 && tp < ref+dist {
			return false
		}
		return true
	}
	if sl != 0 && sl < ref+dist {
		return false
	}
	if tp != 0 && tp > ref-dist {
		return false
	}
	return true
}

// validPendingPrice checks the trigger and limit prices of a pending order
// against the current quote.
func validPendingPrice(info SymbolInfo, t OrderType, tick Tick, price, stopLimit float64) bool {
	if price <= 0 {
		return false
	}
	dist := float64(info.StopsLevel) * info.Point
	switch t {
	case OrderBuyLimit:
		return price <= tick.Ask-dist
	case OrderSellLimit:
		return price >= tick.Bid+dist
	case OrderBuyStop:
		return price >= tick.Ask+dist
	case OrderSellStop:
		return price <= tick.Bid-dist
	case OrderBuyStopLimit:
		return price >= tick.Ask+dist && stopLimit > 0 && stopLimit <= price
	case OrderSellStopLimit:
		return price <= tick.Bid-dist && stopLimit >= price
	default:
		return false
	}
}

// executionPrice is where a pending order would fill.
func executionPrice(t OrderType, price, stopLimit float64) float64 {
	if t.IsStopLimit() && stopLimit > 0 {
		return stopLimit
	}
	return price
}

func (s *Simulator) openPosition(req TradeRequest) TradeResult {
	sym, ok := s.lookup(req.Symbol)
	if !ok {
		return result(RetcodeInvalid)
	}
	if !req.Type.IsMarket() {
		return result(RetcodeInvalidOrder)
	}
	if !validVolume(sym.info, req.Volume) {
		return result(RetcodeInvalidVolume)
	}
	tick := s.tick(sym)
	price, ref := tick.Ask, tick.Bid
	if !req.Type.IsBuy() {
		price, ref = tick.Bid, tick.Ask
	}
	if !validStops(sym.info, req.Type.IsBuy(), ref, req.SL, req.TP) {
		return result(RetcodeInvalidStops)
	}
	margin := s.marginFor(sym, req.Volume, price)
	if margin.GreaterThan(decimal.NewFromFloat(s.Account().MarginFree)) {
		return result(RetcodeNoMoney)
	}

	ticket := s.ticket()
	s.positions[ticket] = &simPosition{
		Position: Position{
			Ticket:       ticket,
			Symbol:       sym.info.Name,
			Type:         req.Type,
			Volume:       req.Volume,
			PriceOpen:    price,
			PriceCurrent: price,
			SL:           req.SL,
			TP:           req.TP,
			Time:         s.now(),
			Comment:      req.Comment,
			Magic:        req.Magic,
		},
		margin: margin,
	}
	res := result(RetcodeDone)
	res.Order = ticket
	res.Deal = s.deal()
	res.Volume = req.Volume
	res.Price = price
	return res
}

func (s *Simulator) closePosition(req TradeRequest) TradeResult {
	p, ok := s.positions[req.Position]
	if !ok {
		return result(RetcodePositionClosed)
	}
	sym, ok := s.lookup(p.Symbol)
	if !ok {
		return result(RetcodeInvalid)
	}
	volume := decimal.NewFromFloat(req.Volume)
	held := decimal.NewFromFloat(p.Volume)
	if !volume.IsPositive() || volume.GreaterThan(held) {
		return result(RetcodeInvalidVolume)
	}

	price := s.closePrice(sym, p.Type)
	realized := s.profit(sym, p.Type, req.Volume, p.PriceOpen, price)
	s.balance = s.balance.Add(realized.Round(2))

	if volume.Equal(held) {
		delete(s.positions, p.Ticket)
	} else {
		remaining := held.Sub(volume)
		p.margin = p.margin.Mul(remaining).Div(held)
		p.Volume = remaining.InexactFloat64()
	}
	res := result(RetcodeDone)
	res.Order = s.ticket()
	res.Deal = s.deal()
	res.Volume = req.Volume
	res.Price = price
	return res
}

func (s *Simulator) placeOrder(req TradeRequest) TradeResult {
	sym, ok := s.lookup(req.Symbol)
	if !ok {
		return result(RetcodeInvalid)
	}
	if req.Type.IsMarket() {
		return result(RetcodeInvalidOrder)
	}
	if !validVolume(sym.info, req.Volume) {
		return result(RetcodeInvalidVolume)
	}
	if !validPendingPrice(sym.info, req.Type, s.tick(sym), req.Price, req.StopLimit) {
		return result(RetcodeInvalidPrice)
	}
	exec := executionPrice(req.Type, req.Price, req.StopLimit)
	if !validStops(sym.info, req.Type.IsBuy(), exec, req.SL, req.TP) {
		return result(RetcodeInvalidStops)
	}

	ticket := s.ticket()
	s.orders[ticket] = &Order{
		Ticket:    ticket,
		Symbol:    sym.info.Name,
		Type:      req.Type,
		Volume:    req.Volume,
		Price:     req.Price,
		StopLimit: req.StopLimit,
		SL:        req.SL,
		TP:        req.TP,
		Time:      s.now(),
		Comment:   req.Comment,
		Magic:     req.Magic,
	}
	res := result(RetcodeDone)
	res.Order = ticket
	res.Volume = req.Volume
	res.Price = req.Price
	return res
}

func (s *Simulator) modifyPosition(req TradeRequest) TradeResult {
	p, ok := s.positions[req.Position]
	if !ok {
		return result(RetcodePositionClosed)
	}
	sym, ok := s.lookup(p.Symbol)
	if !ok {
		return result(RetcodeInvalid)
	}
	if req.SL == p.SL && req.TP == p.TP {
		return result(RetcodeNoChanges)
	}
	if !validStops(sym.info, p.Type.IsBuy(), s.closePrice(sym, p.Type), req.SL, req.TP) {
		return result(RetcodeInvalidStops)
	}
	p.SL, p.TP = req.SL, req.TP
	res := result(RetcodeDone)
	res.Order = p.Ticket
	return res
}

func (s *Simulator) modifyOrder(req TradeRequest) TradeResult {
	o, ok := s.orders[req.Order]
	if !ok {
		return result(RetcodeInvalid)
	}
	sym, ok := s.lookup(o.Symbol)
	if !ok {
		return result(RetcodeInvalid)
	}
	stopLimit := req.StopLimit
	if stopLimit == 0 {
		stopLimit = o.StopLimit
	}
	if req.Price == o.Price && req.SL == o.SL && req.TP == o.TP && stopLimit == o.StopLimit {
		return result(RetcodeNoChanges)
	}
	if !validPendingPrice(sym.info, o.Type, s.tick(sym), req.Price, stopLimit) {
		return result(RetcodeInvalidPrice)
	}
	if !validStops(sym.info, o.Type.IsBuy(), executionPrice(o.Type, req.Price, stopLimit), req.SL, req.TP) {
		return result(RetcodeInvalidStops)
	}
	o.Price, o.StopLimit, o.SL, o.TP = req.Price, stopLimit, req.SL, req.TP
	res := result(RetcodeDone)
	res.Order = o.Ticket
	res.Price = o.Price
	return res
}

func (s *Simulator) removeOrder(req TradeRequest) TradeResult {
	o, ok := s.orders[req.Order]
	if !ok {
		return result(RetcodeInvalid)
	}
	delete(s.orders, o.Ticket)
	res := result(RetcodeDone)
	res.Order = o.Ticket
	return res
}
