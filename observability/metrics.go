package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricRegistryChanges   = "mesh.registry.changes"
	MetricRegistryEvictions = "mesh.registry.evictions"
	MetricBreakerTransition = "mesh.breaker.transitions"
	MetricInvokeCalls       = "mesh.invoke.calls"
	MetricInvokeDuration    = "mesh.invoke.duration"
	MetricConfigPublishes   = "mesh.config.publishes"
	MetricRefreshEvents     = "mesh.config.refresh_events"
)

// Metrics holds the mesh instruments.
type Metrics struct {
	registryChanges   metric.Int64Counter
	registryEvictions metric.Int64Counter
	breakerTransition metric.Int64Counter
	invokeCalls       metric.Int64Counter
	invokeDuration    metric.Float64Histogram
	configPublishes   metric.Int64Counter
	refreshEvents     metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.registryChanges, MetricRegistryChanges, "Registry membership changes by operation"},
		{&m.registryEvictions, MetricRegistryEvictions, "Instances evicted after missing heartbeats"},
		{&m.breakerTransition, MetricBreakerTransition, "Circuit breaker state transitions"},
		{&m.invokeCalls, MetricInvokeCalls, "Breaker-wrapped calls by outcome"},
		{&m.configPublishes, MetricConfigPublishes, "Config snapshots published"},
		{&m.refreshEvents, MetricRefreshEvents, "Refresh events by direction"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}
	m.invokeDuration, err = meter.Float64Histogram(MetricInvokeDuration,
		metric.WithDescription("Duration of breaker-wrapped calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricInvokeDuration, err)
	}
	return &m, nil
}

// RecordRegistryChange counts one membership change (register, deregister,
// status, evict).
func (m *Metrics) RecordRegistryChange(ctx context.Context, service, op string) {
	if m == nil {
		return
	}
	m.registryChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("op", op),
	))
}

// RecordEviction counts one evicted instance.
func (m *Metrics) RecordEviction(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.registryEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// RecordBreakerTransition counts a state change of the named breaker.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransition.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordInvoke records one call outcome (success, fallback, ignored, error).
func (m *Metrics) RecordInvoke(ctx context.Context, service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	)
	m.invokeCalls.Add(ctx, 1, attrs)
	m.invokeDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordConfigPublish counts one published snapshot.
func (m *Metrics) RecordConfigPublish(ctx context.Context, application string) {
	if m == nil {
		return
	}
	m.configPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("application", application)))
}

// RecordRefreshEvent counts refresh events; direction is published,
// delivered or dropped.
func (m *Metrics) RecordRefreshEvent(ctx context.Context, application, direction string) {
	if m == nil {
		return
	}
	m.refreshEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("application", application),
		attribute.String("direction", direction),
	))
}
