// Package observe exposes the assistant's OpenTelemetry metrics over a
// Prometheus /metrics endpoint, next to a /healthz check.
//
// Metrics are recorded through the OpenTelemetry Metrics API; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"secondbrain/internal/assistant"
)

// meterName is the instrumentation scope of all assistant metrics.
const meterName = "secondbrain"

// Metrics holds the instruments. Safe for concurrent use.
type Metrics struct {
	// Cycles counts finished cycles by outcome, intent and language.
	Cycles metric.Int64Counter

	// CycleDuration is the wall time of one cycle, cooldown included.
	CycleDuration metric.Float64Histogram

	// Detections counts detected objects by label.
	Detections metric.Int64Counter

	// Faults counts cycles that failed unexpectedly.
	Faults metric.Int64Counter
}

// latencyBuckets in seconds, sized for a 5s capture window plus a remote call.
var latencyBuckets = []float64{
	0.5, 1, 2, 4, 6, 8, 10, 15, 20, 30, 60,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Cycles, err = m.Int64Counter("secondbrain.cycles",
		metric.WithDescription("Finished interaction cycles by outcome, intent and language."),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("secondbrain.cycle.duration",
		metric.WithDescription("Duration of one interaction cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("secondbrain.detections",
		metric.WithDescription("Objects detected in camera frames by label."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("secondbrain.faults",
		metric.WithDescription("Cycles that failed and triggered the fault cooldown."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// ObserveCycle implements [assistant.Observer].
func (m *Metrics) ObserveCycle(ctx context.Context, c assistant.Cycle) error {
	intentTag := string(c.Intent)
	if intentTag == "" {
		intentTag = "none"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", string(c.Outcome)),
		attribute.String("intent", intentTag),
		attribute.String("lang", c.Language),
	)
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, c.Duration.Seconds(), metric.WithAttributes(
		attribute.String("outcome", string(c.Outcome)),
	))
	if c.Outcome == assistant.OutcomeFault {
		m.Faults.Add(ctx, 1)
	}
	for label, n := range c.Objects {
		m.Detections.Add(ctx, int64(n), metric.WithAttributes(attribute.String("label", label)))
	}
	return nil
}
