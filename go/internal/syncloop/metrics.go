package syncloop

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector records reconciliation activity.
type MetricsCollector interface {
	RecordFetch(success bool, duration time.Duration)
	RecordSkipped()
	RecordMerge(suppressed, acknowledged, expired int)
}

// NoOpMetricsCollector is used when metrics aren't needed.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordFetch(success bool, duration time.Duration)  {}
func (NoOpMetricsCollector) RecordSkipped()                                    {}
func (NoOpMetricsCollector) RecordMerge(suppressed, acknowledged, expired int) {}

// OTelMetrics reports through an OpenTelemetry meter provider.
type OTelMetrics struct {
	fetches   metric.Int64Counter
	latency   metric.Float64Histogram
	skipped   metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewOTelMetrics registers instruments on mp, or on the global provider when
// mp is nil.
func NewOTelMetrics(mp metric.MeterProvider) (*OTelMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/mcdev12/rendezvous/go/internal/syncloop")

	fetches, err := meter.Int64Counter("roundsync.fetches", metric.WithDescription("Dashboard fetches by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("roundsync.fetch.duration", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	skipped, err := meter.Int64Counter("roundsync.cycles.skipped", metric.WithDescription("Cycles skipped because a fetch was in flight"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("roundsync.merge.contested", metric.WithDescription("Registrations with a pending local write seen by a merge"))
	if err != nil {
		return nil, err
	}
	return &OTelMetrics{fetches: fetches, latency: latency, skipped: skipped, conflicts: conflicts}, nil
}

func (m *OTelMetrics) RecordFetch(success bool, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.fetches.Add(ctx, 1, attrs)
	m.latency.Record(ctx, duration.Seconds(), attrs)
}

func (m *OTelMetrics) RecordSkipped() {
	m.skipped.Add(context.Background(), 1)
}

func (m *OTelMetrics) RecordMerge(suppressed, acknowledged, expired int) {
	ctx := context.Background()
	m.conflicts.Add(ctx, int64(suppressed), metric.WithAttributes(attribute.String("verdict", "suppressed")))
	m.conflicts.Add(ctx, int64(acknowledged), metric.WithAttributes(attribute.String("verdict", "acknowledged")))
	m.conflicts.Add(ctx, int64(expired), metric.WithAttributes(attribute.String("verdict", "expired")))
}
