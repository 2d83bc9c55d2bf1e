package market

import (
	"context"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Xolisakesi/metatrrade-mcp/internal/chart"
	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/dispatcher"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
	"github.com/Xolisakesi/metatrrade-mcp/internal/protocol"
	"github.com/Xolisakesi/metatrrade-mcp/internal/terminal"
)

var epoch = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

// gappyTerminal reports the oldest requested value as missing.
type gappyTerminal struct {
	*terminal.Simulator
}

func (g gappyTerminal) IndicatorBuffer(h terminal.Handle, buffer, start, count int) ([]float64, error) {
	values, err := g.Simulator.IndicatorBuffer(h, buffer, start, count)
	if err == nil && len(values) > 1 {
		values[len(values)-1] = math.NaN()
	}
	return values, err
}

type fixture struct {
	sim   *terminal.Simulator
	chart *chart.Manager
	mgr   *Manager
	disp  *dispatcher.Dispatcher
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: epoch}
	clock := func() time.Time { return f.now }
	f.sim = terminal.NewSimulator(config.TerminalConfig{
		Seed: 11,
		Account: config.AccountSeed{
			Login: 900, Name: "Demo", Server: "Sim-Demo", Company: "Acme Markets", Currency: "USD",
			Balance: 10000, Leverage: 100, StopOutLevel: 50,
		},
		Symbols: []config.SymbolSeed{
			{Name: "EURUSD", Digits: 5, Bid: 1.1, SpreadPoints: 12, ContractSize: 100000, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01},
		},
	}, terminal.WithSimClock(clock), terminal.WithChart("EURUSD", terminal.H1))
	require.NoError(t, f.sim.SetPrice("EURUSD", 1.1))
	f.chart = chart.NewManager(f.sim, chart.Config{MaxBars: 500}, chart.WithClock(clock))
	f.mgr = NewManager(gappyTerminal{f.sim}, f.chart, clock)
	f.disp = dispatcher.New()
	f.chart.Register(f.disp)
	f.mgr.Register(f.disp)
	return f
}

func (f *fixture) call(t *testing.T, raw string) string {
	t.Helper()
	out, err := protocol.Encode(f.disp.Dispatch(context.Background(), []byte(raw)))
	require.NoError(t, err)
	return string(out)
}

func request(t *testing.T, params string) dispatcher.Request {
	t.Helper()
	fields, err := protocol.DecodeObject(params)
	require.NoError(t, err)
	return dispatcher.Request{RequestID: "r", Params: fields}
}

func TestGetBalanceEnvelope(t *testing.T) {
	f := newFixture(t)
	f.sim.SetBalance(10523.47)
	require.JSONEq(t,
		`{"status":"ok","requestId":"r1","responseToId":"r1","data":{"balance":10523.47,"currency":"USD","time":"2024.06.03 10:00:00"}}`,
		f.call(t, `{"command":"get_balance","requestId":"r1"}`))
}

func TestGetPrice(t *testing.T) {
	f := newFixture(t)
	out, err := f.mgr.Price(context.Background(), request(t, `{"symbol":"eurusd"}`))
	require.NoError(t, err)
	price := out.(PriceView)
	require.Equal(t, "EURUSD", price.Symbol)
	require.Equal(t, 1.1, price.Bid)
	require.Equal(t, 1.10012, price.Ask)
	require.Equal(t, 12, price.Spread)
	require.Equal(t, 5, price.Digits)

	_, err = f.mgr.Price(context.Background(), request(t, `{"symbol":"BTCUSD"}`))
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestGetHistoryUsesChartBounds(t *testing.T) {
	f := newFixture(t)
	out, err := f.mgr.History(context.Background(), request(t, `{"symbol":"EURUSD","timeframe":"M5","bars":900}`))
	require.NoError(t, err)
	series := out.(chart.SeriesView)
	require.Len(t, series.Bars, chart.DefaultBars)
	require.Equal(t, "M5", series.Timeframe)
	require.Equal(t, "2024.06.03 10:00:00", series.Bars[0].Time)

	out, err = f.mgr.History(context.Background(), request(t, `{"bars":3}`))
	require.NoError(t, err)
	require.Len(t, out.(chart.SeriesView).Bars, 3)
	require.Equal(t, "H1", out.(chart.SeriesView).Timeframe)
}

func TestIndicatorValueRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.IndicatorValue(ctx, request(t, `{"handle":42}`))
	require.Equal(t, errs.CodeNotFound, errs.CodeOf(err))
	_, err = f.mgr.IndicatorValue(ctx, request(t, `{}`))
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))

	added, err := f.chart.Add(ctx, request(t, `{"kind":"MA","parameters":[1]}`))
	require.NoError(t, err)
	handle := added.(chart.IndicatorView).Handle

	f.now = epoch.Add(3 * time.Minute)
	out, err := f.mgr.IndicatorValue(ctx, request(t, `{"handle":`+itoa(handle)+`,"count":3}`))
	require.NoError(t, err)
	view := out.(IndicatorValueView)
	require.Equal(t, "MA", view.Kind)
	require.Len(t, view.Values, 3)
	require.Nil(t, view.Values[2])

	bars, err := f.sim.Rates("EURUSD", terminal.H1, 0, 2)
	require.NoError(t, err)
	require.InDelta(t, bars[0].Close, *view.Values[0], 1e-9)
	require.InDelta(t, bars[1].Close, *view.Values[1], 1e-9)

	regs := f.chart.Registrations()
	require.Equal(t, f.now, regs[0].LastAccess)

	out, err = f.mgr.IndicatorValue(ctx, request(t, `{"handle":`+itoa(handle)+`,"count":0}`))
	require.NoError(t, err)
	require.Len(t, out.(IndicatorValueView).Values, 1)

	_, err = f.mgr.IndicatorValue(ctx, request(t, `{"handle":`+itoa(handle)+`,"buffer":2}`))
	require.Equal(t, errs.CodePlatform, errs.CodeOf(err))
	_, err = f.mgr.IndicatorValue(ctx, request(t, `{"handle":`+itoa(handle)+`,"buffer":-1}`))
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))

	// released behind the registry's back
	require.True(t, f.sim.ReleaseIndicator(terminal.Handle(handle)))
	_, err = f.mgr.IndicatorValue(ctx, request(t, `{"handle":`+itoa(handle)+`}`))
	require.Equal(t, errs.CodePlatform, errs.CodeOf(err))
	require.Contains(t, errs.MessageOf(err), "(code 4807)")
}

func TestAccountQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.sim.Send(ctx, terminal.TradeRequest{Action: terminal.ActionDeal, Symbol: "EURUSD", Type: terminal.OrderBuy, Volume: 1})
	require.NoError(t, err)

	out, err := f.mgr.AccountInfo(ctx, request(t, `{}`))
	require.NoError(t, err)
	acct := out.(AccountView)
	require.Equal(t, int64(900), acct.Login)
	require.Equal(t, "Sim-Demo", acct.Server)
	require.Equal(t, "Acme Markets", acct.Company)
	require.Equal(t, 100, acct.Leverage)

	out, err = f.mgr.Equity(ctx, request(t, `{}`))
	require.NoError(t, err)
	equity := out.(EquityView)
	require.Equal(t, -12.0, equity.Profit)
	require.Equal(t, 9988.0, equity.Equity)

	out, err = f.mgr.Margin(ctx, request(t, `{}`))
	require.NoError(t, err)
	margin := out.(MarginView)
	require.Equal(t, 1100.12, margin.Margin)
	require.Equal(t, 8887.88, margin.FreeMargin)
	require.Equal(t, 907.9, margin.MarginLevel)
	require.Equal(t, 50.0, margin.StopOutLevel)
	require.Equal(t, "2024.06.03 10:00:00", margin.Time)
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
