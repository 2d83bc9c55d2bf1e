package terminal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

var simEpoch = time.Date(2024, 6, 3, 10, 17, 30, 0, time.UTC)

func newSim(t *testing.T) *Simulator {
	t.Helper()
	cfg := config.TerminalConfig{
		Seed: 7,
		Account: config.AccountSeed{
			Login: 5001, Name: "Test", Server: "Sim", Company: "Acme", Currency: "USD",
			Balance: 10000, Leverage: 100, StopOutLevel: 50,
		},
		Symbols: []config.SymbolSeed{
			{Name: "EURUSD", Digits: 5, Bid: 1.1, SpreadPoints: 12, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, StopsLevel: 10},
			{Name: "USDJPY", Digits: 3, Bid: 150, SpreadPoints: 14, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
		},
	}
	now := simEpoch
	return NewSimulator(cfg, WithSimClock(func() time.Time { return now }))
}

func TestParseOrderType(t *testing.T) {
	for input, want := range map[string]OrderType{
		"BUY":                        OrderBuy,
		"sell":                       OrderSell,
		"buy_limit":                  OrderBuyLimit,
		"ORDER_TYPE_SELL_STOP_LIMIT": OrderSellStopLimit,
	} {
		got, ok := ParseOrderType(input)
		require.True(t, ok, input)
		require.Equal(t, want, got, input)
	}
	_, ok := ParseOrderType("HODL")
	require.False(t, ok)
	require.True(t, OrderBuyStop.IsBuy())
	require.False(t, OrderSellLimit.IsMarket())
	require.Equal(t, "SELL_STOP", OrderSellStop.String())
}

func TestParseTimeframe(t *testing.T) {
	for input, want := range map[string]Timeframe{
		"H1": H1, "period_m15": M15, "MN1": MN1, "CURRENT": TimeframeCurrent, "240": H4,
	} {
		got, ok := ParseTimeframe(input)
		require.True(t, ok, input)
		require.Equal(t, want, got, input)
	}
	_, ok := ParseTimeframe("H5")
	require.False(t, ok)
	require.Equal(t, time.Hour, H1.Duration())
}

func TestRetcodeDescriptions(t *testing.T) {
	require.Equal(t, "Invalid stops in the request", RetcodeInvalidStops.Description())
	require.True(t, RetcodeDone.Success())
	require.False(t, RetcodeReject.Success())
	require.Contains(t, Retcode(12345).Description(), "12345")

	err := TradeError("orders/open", RetcodeNoMoney)
	require.Equal(t, errs.CodePlatform, errs.CodeOf(err))
	require.Equal(t, "There is not enough money to complete the request (code 10019)", errs.MessageOf(err))
}

func TestMovingAverages(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6}
	sma := movingAverage(src, 3, MethodSMA)
	require.True(t, math.IsNaN(sma[1]))
	require.InDelta(t, 2, sma[2], 1e-12)
	require.InDelta(t, 5, sma[5], 1e-12)

	ema := movingAverage(src, 3, MethodEMA)
	require.InDelta(t, 2, ema[2], 1e-12)
	require.InDelta(t, 3, ema[3], 1e-12)

	lwma := movingAverage(src, 3, MethodLWMA)
	require.InDelta(t, (3*3+2*2+1*1)/6.0, lwma[2], 1e-12)

	smma := movingAverage(src, 3, MethodSMMA)
	require.InDelta(t, 2+(4-2)/3.0, smma[3], 1e-12)
}

func TestRSIBounds(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5, 6, 7}
	require.Equal(t, 100.0, rsi(rising, 3)[6])
	flat := []float64{2, 2, 2, 2, 2}
	require.Equal(t, 50.0, rsi(flat, 3)[4])
}

func TestTickIsDeterministicAndSpreadApplied(t *testing.T) {
	a := newSim(t)
	b := newSim(t)
	ta, err := a.Tick("eurusd")
	require.NoError(t, err)
	tb, err := b.Tick("EURUSD")
	require.NoError(t, err)
	require.Equal(t, ta, tb)
	require.InDelta(t, 12*0.00001, ta.Ask-ta.Bid, 1e-9)

	_, err = a.Tick("NOPE")
	require.Error(t, err)
	require.Equal(t, "Unknown symbol (code 4301)", errs.MessageOf(err))
}

func TestRatesMostRecentFirst(t *testing.T) {
	sim := newSim(t)
	bars, err := sim.Rates("EURUSD", H1, 0, 5)
	require.NoError(t, err)
	require.Len(t, bars, 5)
	require.Equal(t, simEpoch.Truncate(time.Hour), bars[0].Time)
	for i := 1; i < len(bars); i++ {
		require.Equal(t, time.Hour, bars[i-1].Time.Sub(bars[i].Time))
		require.GreaterOrEqual(t, bars[i].High, math.Max(bars[i].Open, bars[i].Close))
		require.LessOrEqual(t, bars[i].Low, math.Min(bars[i].Open, bars[i].Close))
	}

	_, err = sim.Rates("EURUSD", H1, 0, 0)
	require.Error(t, err)
}

func TestMarketOrderLifecycle(t *testing.T) {
	sim := newSim(t)
	ctx := context.Background()
	require.NoError(t, sim.SetPrice("EURUSD", 1.1))

	res, err := sim.Send(ctx, TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderBuy, Volume: 1})
	require.NoError(t, err)
	require.Equal(t, RetcodeDone, res.Retcode)
	require.InDelta(t, 1.10012, res.Price, 1e-9)

	pos, ok := sim.PositionByTicket(res.Order)
	require.True(t, ok)
	require.Equal(t, OrderBuy, pos.Type)

	acct := sim.Account()
	require.InDelta(t, 1100.12, acct.Margin, 1e-9)
	require.InDelta(t, -12.0, acct.Profit, 1e-9)

	require.NoError(t, sim.SetPrice("EURUSD", 1.10112))
	res, err = sim.Send(ctx, TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderSell, Volume: 0.5, Position: pos.Ticket})
	require.NoError(t, err)
	require.Equal(t, RetcodeDone, res.Retcode)
	require.InDelta(t, 10050.0, sim.Account().Balance, 1e-9)

	pos, ok = sim.PositionByTicket(pos.Ticket)
	require.True(t, ok)
	require.InDelta(t, 0.5, pos.Volume, 1e-12)

	res, err = sim.Send(ctx, TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderSell, Volume: 0.5, Position: pos.Ticket})
	require.NoError(t, err)
	require.Equal(t, RetcodeDone, res.Retcode)
	require.Empty(t, sim.Positions())
	require.InDelta(t, 10100.0, sim.Account().Balance, 1e-9)
}

func TestTradeValidationRetcodes(t *testing.T) {
	sim := newSim(t)
	ctx := context.Background()
	require.NoError(t, sim.SetPrice("EURUSD", 1.1))

	cases := []struct {
		name string
		req  TradeRequest
		want Retcode
	}{
		{"volume step", TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderBuy, Volume: 0.015}, RetcodeInvalidVolume},
		{"stops", TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderBuy, Volume: 0.1, SL: 1.2}, RetcodeInvalidStops},
		{"money", TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderBuy, Volume: 100}, RetcodeNoMoney},
		{"limit above market", TradeRequest{Action: ActionPending, Symbol: "EURUSD", Type: OrderBuyLimit, Volume: 0.1, Price: 1.2}, RetcodeInvalidPrice},
		{"stop below market", TradeRequest{Action: ActionPending, Symbol: "EURUSD", Type: OrderBuyStop, Volume: 0.1, Price: 1.0}, RetcodeInvalidPrice},
		{"market as pending", TradeRequest{Action: ActionPending, Symbol: "EURUSD", Type: OrderBuy, Volume: 0.1, Price: 1.0}, RetcodeInvalidOrder},
		{"missing position", TradeRequest{Action: ActionSLTP, Position: 1}, RetcodePositionClosed},
		{"missing order", TradeRequest{Action: ActionRemove, Order: 1}, RetcodeInvalid},
	}
	for _, tc := range cases {
		res, err := sim.Send(ctx, tc.req)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, res.Retcode, tc.name)
	}
	require.Empty(t, sim.Positions())
	require.Empty(t, sim.Orders())
}

func TestPendingOrderLifecycle(t *testing.T) {
	sim := newSim(t)
	ctx := context.Background()
	require.NoError(t, sim.SetPrice("EURUSD", 1.1))

	res, err := sim.Send(ctx, TradeRequest{Action: ActionPending, Symbol: "EURUSD", Type: OrderBuyLimit, Volume: 0.1, Price: 1.09, SL: 1.08})
	require.NoError(t, err)
	require.Equal(t, RetcodeDone, res.Retcode)

	order, ok := sim.OrderByTicket(res.Order)
	require.True(t, ok)
	require.Equal(t, 1.09, order.Price)

	res, err = sim.Send(ctx, TradeRequest{Action: ActionModify, Order: order.Ticket, Price: 1.09, SL: 1.08})
	require.NoError(t, err)
	require.Equal(t, RetcodeNoChanges, res.Retcode)

	res, err = sim.Send(ctx, TradeRequest{Action: ActionModify, Order: order.Ticket, Price: 1.085, SL: 1.08, TP: 1.1})
	require.NoError(t, err)
	require.Equal(t, RetcodeDone, res.Retcode)
	order, _ = sim.OrderByTicket(order.Ticket)
	require.Equal(t, 1.085, order.Price)
	require.Equal(t, 1.1, order.TP)

	res, err = sim.Send(ctx, TradeRequest{Action: ActionRemove, Order: order.Ticket})
	require.NoError(t, err)
	require.Equal(t, RetcodeDone, res.Retcode)
	require.Empty(t, sim.Orders())
}

func TestRejectNext(t *testing.T) {
	sim := newSim(t)
	sim.RejectNext(RetcodeMarketClosed)
	res, err := sim.Send(context.Background(), TradeRequest{Action: ActionDeal, Symbol: "EURUSD", Type: OrderBuy, Volume: 0.1})
	require.NoError(t, err)
	require.Equal(t, RetcodeMarketClosed, res.Retcode)
	require.Empty(t, sim.Positions())
}

func TestChartPeriod(t *testing.T) {
	sim := newSim(t)
	require.Equal(t, "EURUSD", sim.ChartSymbol())
	require.NoError(t, sim.SetChartPeriod(M15))
	require.Equal(t, M15, sim.ChartPeriod())

	sim.LockChart(true)
	err := sim.SetChartPeriod(H4)
	require.Error(t, err)
	require.Contains(t, errs.MessageOf(err), "4106")
	require.Equal(t, M15, sim.ChartPeriod())
}

func TestIndicatorHandles(t *testing.T) {
	sim := newSim(t)
	h, err := sim.CreateIndicator(IndicatorSpec{Kind: IndicatorBands, Symbol: "EURUSD", Timeframe: H1, Params: []float64{20, 0, 2}})
	require.NoError(t, err)
	require.True(t, sim.IndicatorValid(h))

	mid, err := sim.IndicatorBuffer(h, 0, 0, 3)
	require.NoError(t, err)
	upper, err := sim.IndicatorBuffer(h, 1, 0, 3)
	require.NoError(t, err)
	lower, err := sim.IndicatorBuffer(h, 2, 0, 3)
	require.NoError(t, err)
	for i := range mid {
		require.False(t, math.IsNaN(mid[i]))
		require.GreaterOrEqual(t, upper[i], mid[i])
		require.LessOrEqual(t, lower[i], mid[i])
	}

	_, err = sim.IndicatorBuffer(h, 3, 0, 1)
	require.Error(t, err)

	require.True(t, sim.ReleaseIndicator(h))
	require.False(t, sim.ReleaseIndicator(h))
	_, err = sim.IndicatorBuffer(h, 0, 0, 1)
	require.Contains(t, errs.MessageOf(err), "4807")

	_, err = sim.CreateIndicator(IndicatorSpec{Kind: "ICHIMOKU", Symbol: "EURUSD", Timeframe: H1})
	require.Error(t, err)
	_, err = sim.CreateIndicator(IndicatorSpec{Kind: IndicatorRSI, Symbol: "NOPE", Timeframe: H1})
	require.Error(t, err)
	_, err = sim.CreateIndicator(IndicatorSpec{Kind: IndicatorRSI, Symbol: "EURUSD", Params: []float64{14, 0, 1}})
	require.Error(t, err)
}

func TestIndicatorValuesMostRecentFirst(t *testing.T) {
	sim := newSim(t)
	h, err := sim.CreateIndicator(IndicatorSpec{Kind: IndicatorMA, Symbol: "EURUSD", Timeframe: H1, Params: []float64{1}})
	require.NoError(t, err)
	values, err := sim.IndicatorBuffer(h, 0, 0, 4)
	require.NoError(t, err)
	bars, err := sim.Rates("EURUSD", H1, 0, 4)
	require.NoError(t, err)
	for i := range values {
		require.InDelta(t, bars[i].Close, values[i], 1e-12)
	}
}

func TestHistoryDepthIsBounded(t *testing.T) {
	sim := newSim(t)
	_, err := sim.Rates("EURUSD", H1, 0, MaxHistory+1)
	require.Contains(t, errs.MessageOf(err), "4401")

	_, err = sim.CreateIndicator(IndicatorSpec{Kind: IndicatorMA, Symbol: "EURUSD", Timeframe: H1, Params: []float64{1e8}})
	require.Contains(t, errs.MessageOf(err), "4802")
	_, err = sim.CreateIndicator(IndicatorSpec{Kind: IndicatorMACD, Symbol: "EURUSD", Timeframe: H1, Params: []float64{12, 40_000, 9}})
	require.Contains(t, errs.MessageOf(err), "4802")

	h, err := sim.CreateIndicator(IndicatorSpec{Kind: IndicatorRSI, Symbol: "EURUSD", Timeframe: H1, Params: []float64{14}})
	require.NoError(t, err)
	_, err = sim.IndicatorBuffer(h, 0, MaxHistory, 1)
	require.Contains(t, errs.MessageOf(err), "4806")
}
