// Package telemetry exports watcher metrics over OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationName = "github.com/raid-guild/payment-watcher-go"

// Config configures metric export.
type Config struct {
	Enabled        bool
	Endpoint       string // e.g. "localhost:4317"
	Insecure       bool
	ServiceName    string
	ExportInterval time.Duration
}

// Provider owns the meter provider for the process.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
}

// New creates the meter provider. When export is disabled the returned
// provider hands out no-op instruments.
func New(ctx context.Context, c Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	if !c.Enabled {
		logger.InfoContext(ctx, "metric export disabled")
		return &Provider{meter: noop.NewMeterProvider().Meter(instrumentationName)}, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(c.Endpoint)}
	if c.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	serviceName := c.ServiceName
	if serviceName == "" {
		serviceName = "paywatch"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	interval := c.ExportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	logger.InfoContext(ctx, "metric export enabled", "endpoint", c.Endpoint, "interval", interval)
	return &Provider{
		meterProvider: mp,
		meter:         mp.Meter(instrumentationName),
	}, nil
}

// Meter returns the meter instruments are created from.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Shutdown flushes and stops metric export.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

// Metrics are the instruments recorded by the poller and recorder.
type Metrics struct {
	cycles        metric.Int64Counter
	cycleFailures metric.Int64Counter
	cycleDuration metric.Float64Histogram
	ledgerErrors  metric.Int64Counter
	outcomes      metric.Int64Counter
	watched       metric.Int64Gauge
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.cycles, err = meter.Int64Counter("paywatch.poll.cycles",
		metric.WithDescription("Poll cycles run")); err != nil {
		return nil, err
	}
	if m.cycleFailures, err = meter.Int64Counter("paywatch.poll.cycle_failures",
		metric.WithDescription("Poll cycles that failed as a whole")); err != nil {
		return nil, err
	}
	if m.cycleDuration, err = meter.Float64Histogram("paywatch.poll.cycle_duration",
		metric.WithDescription("Poll cycle duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.ledgerErrors, err = meter.Int64Counter("paywatch.ledger.errors",
		metric.WithDescription("Ledger calls that failed or timed out")); err != nil {
		return nil, err
	}
	if m.outcomes, err = meter.Int64Counter("paywatch.settlement.outcomes",
		metric.WithDescription("Settlement outcomes by result")); err != nil {
		return nil, err
	}
	if m.watched, err = meter.Int64Gauge("paywatch.registry.watched",
		metric.WithDescription("References watched at the start of a cycle")); err != nil {
		return nil, err
	}
	return &m, nil
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// Cycle records a finished poll cycle.
func (m *Metrics) Cycle(ctx context.Context, watched int, took time.Duration, failed bool) {
	m.cycles.Add(ctx, 1)
	m.cycleDuration.Record(ctx, took.Seconds())
	m.watched.Record(ctx, int64(watched))
	if failed {
		m.cycleFailures.Add(ctx, 1)
	}
}

// LedgerError records a failed ledger call.
func (m *Metrics) LedgerError(ctx context.Context, method string) {
	m.ledgerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// Outcome records a settlement outcome such as "confirmed" or "duplicate".
func (m *Metrics) Outcome(ctx context.Context, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
