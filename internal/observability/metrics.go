// Package observability exports routing metrics through the OpenTelemetry
// prometheus bridge.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Metrics manages the router's metric instruments. A zero-value Metrics (or
// one built with Enabled=false) is a no-op, so callers never nil-check.
type Metrics struct {
	meter metric.Meter

	decisions      metric.Int64Counter
	routeLatency   metric.Float64Histogram
	degradations   metric.Int64Counter
	sessionsActive metric.Int64UpDownCounter
}

// Config configures the metrics collector.
type Config struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// NewMetrics creates the collector and registers the prometheus exporter.
func NewMetrics(config Config) (*Metrics, error) {
	if !config.Enabled {
		return &Metrics{}, nil
	}
	if config.ServiceName == "" {
		config.ServiceName = "switchboard"
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("switchboard")

	decisions, err := meter.Int64Counter(
		"switchboard.route.decisions.total",
		metric.WithDescription("Total routing decisions by verdict"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	routeLatency, err := meter.Float64Histogram(
		"switchboard.route.latency",
		metric.WithDescription("End-to-end routing call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	degradations, err := meter.Int64Counter(
		"switchboard.route.degradations.total",
		metric.WithDescription("Signals excluded from aggregation due to timeout or error"),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create degradations counter: %w", err)
	}

	sessionsActive, err := meter.Int64UpDownCounter(
		"switchboard.sessions.active",
		metric.WithDescription("Number of active sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions_active gauge: %w", err)
	}

	return &Metrics{
		meter:          meter,
		decisions:      decisions,
		routeLatency:   routeLatency,
		degradations:   degradations,
		sessionsActive: sessionsActive,
	}, nil
}

// Handler exposes the prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promclient.Handler()
}

// RecordDecision records one routing call.
func (m *Metrics) RecordDecision(ctx context.Context, decision, reason string, latency time.Duration, degraded []string) {
	if m == nil || m.decisions == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("decision", decision),
		attribute.String("reason", reason),
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.routeLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attribute.String("decision", decision)))
	for _, signal := range degraded {
		m.degradations.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
	}
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
}
