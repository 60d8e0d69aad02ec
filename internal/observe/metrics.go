// Package observe holds obivox's OpenTelemetry instruments, the provider
// setup that bridges them to Prometheus, and the HTTP middleware that traces
// transport requests.
//
// Tests should build Metrics with NewMetrics over their own MeterProvider;
// Default uses the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nadzzz/obivox"

// Metrics holds every instrument the pipeline records into.
type Metrics struct {
	// Classifications counts drift classifications by zone.
	Classifications metric.Int64Counter

	// Cascades counts classifications that raised should_cascade.
	Cascades metric.Int64Counter

	// Interventions counts classifications that exhausted recovery attempts.
	Interventions metric.Int64Counter

	// Confirmations counts human confirmation requests by reason
	// ("zone" or "confidence").
	Confirmations metric.Int64Counter

	// Lookups counts index lookups by result ("hit" or "miss").
	Lookups metric.Int64Counter

	// RebuildDuration tracks index rebuild latency by target discipline.
	RebuildDuration metric.Float64Histogram

	// CodecDuration tracks backend invocation latency by backend and status.
	CodecDuration metric.Float64Histogram

	// CodecErrors counts failed backend invocations by backend.
	CodecErrors metric.Int64Counter

	// HTTPRequestDuration tracks transport request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var rebuildBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Classifications, err = m.Int64Counter("obivox.drift.classifications",
		metric.WithDescription("Drift classifications by zone."),
	); err != nil {
		return nil, err
	}
	if met.Cascades, err = m.Int64Counter("obivox.drift.cascades",
		metric.WithDescription("Classifications that requested a fault-tolerance cascade."),
	); err != nil {
		return nil, err
	}
	if met.Interventions, err = m.Int64Counter("obivox.drift.interventions",
		metric.WithDescription("Classifications that required human intervention."),
	); err != nil {
		return nil, err
	}
	if met.Confirmations, err = m.Int64Counter("obivox.feedback.confirmations",
		metric.WithDescription("Human confirmation requests by reason."),
	); err != nil {
		return nil, err
	}
	if met.Lookups, err = m.Int64Counter("obivox.atlas.lookups",
		metric.WithDescription("Discovery index lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.RebuildDuration, err = m.Float64Histogram("obivox.atlas.rebuild.duration",
		metric.WithDescription("Latency of discovery index rebuilds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(rebuildBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CodecDuration, err = m.Float64Histogram("obivox.codec.duration",
		metric.WithDescription("Latency of codec backend invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CodecErrors, err = m.Int64Counter("obivox.codec.errors",
		metric.WithDescription("Failed codec backend invocations by backend."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("obivox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics built on the global provider.
// It panics if instrument creation fails.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordClassification records one drift decision.
func (m *Metrics) RecordClassification(ctx context.Context, zone string, cascade, intervention bool) {
	attrs := metric.WithAttributes(attribute.String("zone", zone))
	m.Classifications.Add(ctx, 1, attrs)
	if cascade {
		m.Cascades.Add(ctx, 1, attrs)
	}
	if intervention {
		m.Interventions.Add(ctx, 1, attrs)
	}
}

// RecordConfirmation records a confirmation request.
func (m *Metrics) RecordConfirmation(ctx context.Context, reason string) {
	m.Confirmations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordLookup records a discovery index lookup.
func (m *Metrics) RecordLookup(ctx context.Context, found bool) {
	result := "miss"
	if found {
		result = "hit"
	}
	m.Lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRebuild records an index rebuild under discipline.
func (m *Metrics) RecordRebuild(ctx context.Context, discipline string, d time.Duration) {
	m.RebuildDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("discipline", discipline)))
}

// RecordCodec records one backend invocation; a non-nil err also counts as
// an error.
func (m *Metrics) RecordCodec(ctx context.Context, backend, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.CodecErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		))
	}
	m.CodecDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}
