package orders

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/journal"
	"github.com/Xolisakesi/metatrrade-mcp/internal/observability"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// Open serves open_order.
func (m *Manager) Open(ctx context.Context, req dispatcher.Request) (any, error) {
	entry := journal.Entry{Operation: "open_order", RequestID: req.RequestID}
	out, err := m.open(ctx, req.Params, &entry)
	m.finish(ctx, &entry, err)
	return out, err
}

// Modify serves modify_order.
func (m *Manager) Modify(ctx context.Context, req dispatcher.Request) (any, error) {
	entry := journal.Entry{Operation: "modify_order", RequestID: req.RequestID}
	out, err := m.modify(ctx, req.Params, &entry)
	m.finish(ctx, &entry, err)
	return out, err
}

// Close serves close_order.
func (m *Manager) Close(ctx context.Context, req dispatcher.Request) (any, error) {
	entry := journal.Entry{Operation: "close_order", RequestID: req.RequestID}
	out, err := m.close(ctx, req.Params, &entry)
	m.finish(ctx, &entry, err)
	return out, err
}

// List serves get_orders, optionally filtered by symbol.
func (m *Manager) List(_ context.Context, req dispatcher.Request) (any, error) {
	filter, _ := req.Params.String("symbol")
	filter = strings.ToUpper(strings.TrimSpace(filter))

	out := ListView{Orders: []OrderView{}, Positions: []PositionView{}}
	for _, o := range m.term.Orders() {
		if filter == "" || o.Symbol == filter {
			out.Orders = append(out.Orders, orderView(o))
		}
	}
	for _, p := range m.term.Positions() {
		if filter == "" || p.Symbol == filter {
			out.Positions = append(out.Positions, positionView(p))
		}
	}
	return out, nil
}

func (m *Manager) open(ctx context.Context, p protocol.Fields, entry *journal.Entry) (any, error) {
	const op = "orders.open"

	symbol, err := requireSymbol(op, p)
	if err != nil {
		return nil, err
	}
	entry.Symbol = symbol
	orderType, err := orderTypeParam(op, p)
	if err != nil {
		return nil, err
	}
	entry.OrderType = orderType.String()

	if !p.Has("volume") {
		return nil, errs.Invalid(op, "volume is required")
	}
	volume, _, err := optionalFloat(op, p, "volume")
	if err != nil {
		return nil, err
	}
	if volume <= 0 || volume > m.cfg.MaxVolume {
		return nil, errs.Invalid(op, "volume must be greater than 0 and at most %g", m.cfg.MaxVolume)
	}
	entry.Volume = decimal.NewFromFloat(volume)

	price, hasPrice, err := optionalFloat(op, p, "price")
	if err != nil {
		return nil, err
	}
	if !orderType.IsMarket() && (!hasPrice || price <= 0) {
		return nil, errs.Invalid(op, "price must be positive for %s orders", orderType)
	}
	sl, _, err := optionalLevel(op, p, "sl")
	if err != nil {
		return nil, err
	}
	tp, _, err := optionalLevel(op, p, "tp")
	if err != nil {
		return nil, err
	}
	var stopLimit float64
	if orderType.IsStopLimit() {
		stopLimit = price
		v, has, err := optionalFloat(op, p, "stopLimit")
		if err != nil {
			return nil, err
		}
		if has {
			if v <= 0 {
				return nil, errs.Invalid(op, "stopLimit must be positive")
			}
			stopLimit = v
		}
	}
	comment, _ := p.String("comment")

	info, ok := m.term.Symbol(symbol)
	if !ok {
		return nil, errs.Invalid(op, "unknown symbol: %s", symbol)
	}
	normalized := normalizeVolume(info, volume)
	if normalized <= 0 {
		return nil, errs.Invalid(op, "volume %g is below the volume step %g", volume, info.VolumeStep)
	}
	if !m.allow() {
		return nil, errs.Invalid(op, "order rate limit exceeded")
	}

	req := terminal.TradeRequest{
		Action:    terminal.ActionDeal,
		Symbol:    info.Name,
		Type:      orderType,
		Volume:    normalized,
		SL:        normalizePrice(info, sl),
		TP:        normalizePrice(info, tp),
		Deviation: m.cfg.Deviation,
		Magic:     m.cfg.Magic,
		Comment:   comment,
	}
	if !orderType.IsMarket() {
		req.Action = terminal.ActionPending
		req.Price = normalizePrice(info, price)
		req.StopLimit = normalizePrice(info, stopLimit)
	}
	entry.Volume = decimal.NewFromFloat(req.Volume)
	entry.Price = decimal.NewFromFloat(req.Price)

	res, err := m.send(ctx, op, req, entry)
	if err != nil {
		return nil, err
	}
	entry.Ticket = res.Order
	entry.Price = decimal.NewFromFloat(res.Price)
	if res.Deal != 0 {
		entry.Details = map[string]any{"deal": res.Deal}
	}

	if orderType.IsMarket() {
		if pos, ok := m.term.PositionByTicket(res.Order); ok {
			return positionView(pos), nil
		}
	} else if ord, ok := m.term.OrderByTicket(res.Order); ok {
		return orderView(ord), nil
	}
	return map[string]any{"ticket": res.Order, "retcode": int(res.Retcode)}, nil
}

func (m *Manager) modify(ctx context.Context, p protocol.Fields, entry *journal.Entry) (any, error) {
	const op = "orders.modify"

	ticket, err := requireTicket(op, p)
	if err != nil {
		return nil, err
	}
	entry.Ticket = ticket
	price, hasPrice, err := optionalFloat(op, p, "price")
	if err != nil {
		return nil, err
	}
	sl, hasSL, err := optionalLevel(op, p, "sl")
	if err != nil {
		return nil, err
	}
	tp, hasTP, err := optionalLevel(op, p, "tp")
	if err != nil {
		return nil, err
	}

	if ord, ok := m.term.OrderByTicket(ticket); ok {
		entry.Symbol, entry.OrderType = ord.Symbol, ord.Type.String()
		info, ok := m.term.Symbol(ord.Symbol)
		if !ok {
			return nil, errs.Invalid(op, "unknown symbol: %s", ord.Symbol)
		}
		req := terminal.TradeRequest{
			Action:    terminal.ActionModify,
			Order:     ticket,
			Symbol:    ord.Symbol,
			Type:      ord.Type,
			Volume:    ord.Volume,
			Price:     ord.Price,
			StopLimit: ord.StopLimit,
			SL:        ord.SL,
			TP:        ord.TP,
		}
		if hasPrice {
			if price <= 0 {
				return nil, errs.Invalid(op, "price must be positive")
			}
			req.Price = normalizePrice(info, price)
		}
		if ord.Type.IsStopLimit() {
			v, has, err := optionalFloat(op, p, "stopLimit")
			if err != nil {
				return nil, err
			}
			if has {
				if v <= 0 {
					return nil, errs.Invalid(op, "stopLimit must be positive")
				}
				req.StopLimit = normalizePrice(info, v)
			}
		}
		if hasSL {
			req.SL = normalizePrice(info, sl)
		}
		if hasTP {
			req.TP = normalizePrice(info, tp)
		}
		entry.Volume = decimal.NewFromFloat(ord.Volume)
		entry.Price = decimal.NewFromFloat(req.Price)
		if !m.allow() {
			return nil, errs.Invalid(op, "order rate limit exceeded")
		}
		if _, err := m.send(ctx, op, req, entry); err != nil {
			return nil, err
		}
		if updated, ok := m.term.OrderByTicket(ticket); ok {
			return orderView(updated), nil
		}
		return map[string]any{"ticket": ticket}, nil
	}

	if pos, ok := m.term.PositionByTicket(ticket); ok {
		entry.Symbol, entry.OrderType = pos.Symbol, pos.Type.String()
		if hasPrice {
			return nil, errs.Invalid(op, "price cannot be modified for open position %d", ticket)
		}
		info, ok := m.term.Symbol(pos.Symbol)
		if !ok {
			return nil, errs.Invalid(op, "unknown symbol: %s", pos.Symbol)
		}
		req := terminal.TradeRequest{
			Action:   terminal.ActionSLTP,
			Position: ticket,
			Symbol:   pos.Symbol,
			Type:     pos.Type,
			SL:       pos.SL,
			TP:       pos.TP,
		}
		if hasSL {
			req.SL = normalizePrice(info, sl)
		}
		if hasTP {
			req.TP = normalizePrice(info, tp)
		}
		entry.Volume = decimal.NewFromFloat(pos.Volume)
		entry.Price = decimal.NewFromFloat(pos.PriceOpen)
		if !m.allow() {
			return nil, errs.Invalid(op, "order rate limit exceeded")
		}
		if _, err := m.send(ctx, op, req, entry); err != nil {
			return nil, err
		}
		if updated, ok := m.term.PositionByTicket(ticket); ok {
			return positionView(updated), nil
		}
		return map[string]any{"ticket": ticket}, nil
	}

	return nil, errs.NotFound(op, "order or position %d not found", ticket)
}

func (m *Manager) close(ctx context.Context, p protocol.Fields, entry *journal.Entry) (any, error) {
	const op = "orders.close"

	ticket, err := requireTicket(op, p)
	if err != nil {
		return nil, err
	}
	entry.Ticket = ticket

	if ord, ok := m.term.OrderByTicket(ticket); ok {
		entry.Symbol, entry.OrderType = ord.Symbol, ord.Type.String()
		entry.Volume = decimal.NewFromFloat(ord.Volume)
		entry.Price = decimal.NewFromFloat(ord.Price)
		if !m.allow() {
			return nil, errs.Invalid(op, "order rate limit exceeded")
		}
		req := terminal.TradeRequest{Action: terminal.ActionRemove, Order: ticket, Symbol: ord.Symbol, Type: ord.Type}
		if _, err := m.send(ctx, op, req, entry); err != nil {
			return nil, err
		}
		return CloseView{Ticket: ticket, Kind: "order", Volume: ord.Volume}, nil
	}

	pos, ok := m.term.PositionByTicket(ticket)
	if !ok {
		return nil, errs.NotFound(op, "order or position %d not found", ticket)
	}
	entry.Symbol, entry.OrderType = pos.Symbol, pos.Type.String()

	volume := pos.Volume
	if p.Has("volume") {
		v, _, err := optionalFloat(op, p, "volume")
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, errs.Invalid(op, "volume must be positive")
		}
		if v < volume {
			volume = v
		}
	}
	info, ok := m.term.Symbol(pos.Symbol)
	if !ok {
		return nil, errs.Invalid(op, "unknown symbol: %s", pos.Symbol)
	}
	volume = normalizeVolume(info, volume)
	if volume <= 0 {
		return nil, errs.Invalid(op, "volume is below the volume step %g", info.VolumeStep)
	}
	entry.Volume = decimal.NewFromFloat(volume)
	if !m.allow() {
		return nil, errs.Invalid(op, "order rate limit exceeded")
	}

	req := terminal.TradeRequest{
		Action:    terminal.ActionDeal,
		Position:  ticket,
		Symbol:    pos.Symbol,
		Type:      opposite(pos.Type),
		Volume:    volume,
		Deviation: m.cfg.Deviation,
		Magic:     m.cfg.Magic,
	}
	res, err := m.send(ctx, op, req, entry)
	if err != nil {
		return nil, err
	}
	entry.Price = decimal.NewFromFloat(res.Price)
	entry.Details = map[string]any{"deal": res.Deal}

	remaining := decimal.NewFromFloat(pos.Volume).Sub(decimal.NewFromFloat(volume))
	return CloseView{
		Ticket:    ticket,
		Kind:      "position",
		Volume:    volume,
		Remaining: remaining.InexactFloat64(),
		Price:     res.Price,
		Deal:      res.Deal,
	}, nil
}

func (m *Manager) send(ctx context.Context, op string, req terminal.TradeRequest, entry *journal.Entry) (terminal.TradeResult, error) {
	res, err := m.term.Send(ctx, req)
	if err != nil {
		return res, errs.New(op, errs.CodeInternal, errs.WithMessage("trade request failed"), errs.WithCause(err))
	}
	entry.Retcode = int(res.Retcode)
	if !res.Retcode.Success() {
		m.metrics.RecordOrderRejected(ctx, req.Symbol, int(res.Retcode))
		m.logger.Warn("trade request rejected",
			observability.F("action", req.Action.String()),
			observability.F("symbol", req.Symbol),
			observability.F("retcode", int(res.Retcode)),
			observability.F("description", res.Retcode.Description()))
		return res, terminal.TradeError(op, res.Retcode)
	}
	return res, nil
}

func (m *Manager) finish(ctx context.Context, entry *journal.Entry, err error) {
	switch errs.CodeOf(err) {
	case "":
		entry.Outcome = journal.OutcomeExecuted
	case errs.CodePlatform:
		entry.Outcome = journal.OutcomeRejected
	case errs.CodeInvalid, errs.CodeNotFound:
		entry.Outcome = journal.OutcomeInvalid
	default:
		entry.Outcome = journal.OutcomeFailed
	}
	if err != nil {
		entry.Message = errs.MessageOf(err)
	}
	m.record(ctx, *entry)
}
