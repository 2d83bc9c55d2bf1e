// Package telemetry provides OpenTelemetry initialization and bridge instruments.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
)

const (
	serviceVersion  = "1.0.0"
	defaultEndpoint = "localhost:4318"
)

// environment labels every bridge instrument.
var environment string

// Provider owns the OTLP meter provider. A disabled provider hands out
// meters from the global (no-op) provider.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	endpoint      string
}

// NewProvider sets the metric environment label and, when cfg enables
// metrics, starts a periodic OTLP/HTTP exporter.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, env config.Environment) (*Provider, error) {
	environment = strings.ToLower(string(env))

	endpoint := stripScheme(strings.TrimSpace(cfg.OTLPEndpoint))
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	p := &Provider{endpoint: endpoint}
	if !cfg.Enabled || !cfg.EnableMetrics {
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", Environment()),
		),
		resource.WithProcessRuntimeName(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if cfg.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithView(latencyViews()...),
	)
	otel.SetMeterProvider(p.meterProvider)
	return p, nil
}

// Enabled reports whether metrics are exported.
func (p *Provider) Enabled() bool { return p.meterProvider != nil }

// Endpoint is the collector address with any URL scheme removed.
func (p *Provider) Endpoint() string { return p.endpoint }

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter: %w", err)
	}
	return nil
}

// Meter returns a meter with the given name.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if p.meterProvider == nil {
		return otel.Meter(name, opts...)
	}
	return p.meterProvider.Meter(name, opts...)
}

// latencyViews sizes histogram buckets for command handling and handshakes,
// both measured in milliseconds.
func latencyViews() []sdkmetric.View {
	buckets := map[string][]float64{
		MetricCommandDuration:   {0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		MetricHandshakeDuration: {1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000},
	}
	views := make([]sdkmetric.View, 0, len(buckets))
	for name, bounds := range buckets {
		views = append(views, sdkmetric.NewView(
			sdkmetric.Instrument{Name: name, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
		))
	}
	return views
}

// stripScheme removes an http:// or https:// prefix; the OTLP HTTP exporter
// wants host:port.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}

// Environment returns the environment label, "development" until a provider
// is created.
func Environment() string {
	if environment == "" {
		return "development"
	}
	return environment
}
