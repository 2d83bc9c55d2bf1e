package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names emitted by the bridge.
const (
	MetricCommandsTotal      = "bridge.commands.total"
	MetricCommandDuration    = "bridge.command.duration"
	MetricConnectionAttempts = "bridge.connection.attempts"
	MetricHandshakeDuration  = "bridge.connection.handshake.duration"
	MetricIndicatorsEvicted  = "bridge.indicators.evicted"
	MetricOrdersRejected     = "bridge.orders.rejected"
)

const meterName = "terminal-bridge"

// Metrics bundles the instruments recorded by the bridge components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commands  metric.Int64Counter
	duration  metric.Float64Histogram
	attempts  metric.Int64Counter
	handshake metric.Float64Histogram
	evicted   metric.Int64Counter
	rejected  metric.Int64Counter
}

// NewMetrics creates the bridge instruments on the supplied meter. A nil meter
// falls back to the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error
	if m.commands, err = meter.Int64Counter(MetricCommandsTotal,
		metric.WithDescription("Commands dispatched by type and status"),
		metric.WithUnit("{command}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram(MetricCommandDuration,
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.attempts, err = meter.Int64Counter(MetricConnectionAttempts,
		metric.WithDescription("Connection attempts by result"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}
	if m.handshake, err = meter.Float64Histogram(MetricHandshakeDuration,
		metric.WithDescription("Handshake duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.evicted, err = meter.Int64Counter(MetricIndicatorsEvicted,
		metric.WithDescription("Indicator registrations evicted after inactivity"),
		metric.WithUnit("{indicator}")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter(MetricOrdersRejected,
		metric.WithDescription("Trade requests rejected by the terminal"),
		metric.WithUnit("{order}")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCommand records a dispatched command and its handling latency.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(CommandAttributes(command, status)...)
	m.commands.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
}

// RecordConnectionAttempt counts a connection attempt outcome.
func (m *Metrics) RecordConnectionAttempt(ctx context.Context, transport, result string) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(ConnectionAttributes(transport, result)...))
}

// RecordHandshake records how long the identification exchange took.
func (m *Metrics) RecordHandshake(ctx context.Context, transport string, took time.Duration) {
	if m == nil {
		return
	}
	m.handshake.Record(ctx, float64(took)/float64(time.Millisecond),
		metric.WithAttributes(AttrEnvironment.String(Environment()), AttrTransport.String(transport)))
}

// RecordEvictions counts indicator registrations dropped by housekeeping.
func (m *Metrics) RecordEvictions(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evicted.Add(ctx, int64(n), metric.WithAttributes(AttrEnvironment.String(Environment())))
}

// RecordOrderRejected counts a trade request refused with the given retcode.
func (m *Metrics) RecordOrderRejected(ctx context.Context, symbol string, retcode int) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrSymbol.String(symbol),
		attribute.String(string(AttrRetcode), strconv.Itoa(retcode)),
	))
}
