package orders

import (
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

// OrderView is the wire form of a pending order.
type OrderView struct {
	Ticket    uint64  `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Volume    float64 `json:"volume"`
	Price     float64 `json:"price"`
	StopLimit float64 `json:"stopLimit,omitempty"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Time      string  `json:"time"`
	Comment   string  `json:"comment,omitempty"`
}

// PositionView is the wire form of an open position.
type PositionView struct {
	Ticket       uint64  `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	Price        float64 `json:"price"`
	CurrentPrice float64 `json:"currentPrice"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	Time         string  `json:"time"`
	Comment      string  `json:"comment,omitempty"`
}

// CloseView reports a deleted order or a (partially) closed position.
type CloseView struct {
	Ticket    uint64  `json:"ticket"`
	Kind      string  `json:"kind"`
	Volume    float64 `json:"volume"`
	Remaining float64 `json:"remaining"`
	Price     float64 `json:"price,omitempty"`
	Deal      uint64  `json:"deal,omitempty"`
}

// ListView is the get_orders result.
type ListView struct {
	Orders    []OrderView    `json:"orders"`
	Positions []PositionView `json:"positions"`
}

func orderView(o terminal.Order) OrderView {
	return OrderView{
		Ticket:    o.Ticket,
		Symbol:    o.Symbol,
		Type:      o.Type.String(),
		Volume:    o.Volume,
		Price:     o.Price,
		StopLimit: o.StopLimit,
		SL:        o.SL,
		TP:        o.TP,
		Time:      protocol.FormatTime(o.Time),
		Comment:   o.Comment,
	}
}

func positionView(p terminal.Position) PositionView {
	return PositionView{
		Ticket:       p.Ticket,
		Symbol:       p.Symbol,
		Type:         p.Type.String(),
		Volume:       p.Volume,
		Price:        p.PriceOpen,
		CurrentPrice: p.PriceCurrent,
		SL:           p.SL,
		TP:           p.TP,
		Profit:       p.Profit,
		Swap:         p.Swap,
		Time:         protocol.FormatTime(p.Time),
		Comment:      p.Comment,
	}
}
