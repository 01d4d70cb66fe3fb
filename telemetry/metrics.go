package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds operational metrics using OTEL semantic conventions
type EngineMetrics struct {
	scans               metric.Int64Counter
	scanDuration        metric.Float64Histogram
	resourcesDiscovered metric.Int64Gauge
	violationsDetected  metric.Int64Counter
	driftEvents         metric.Int64Counter
	cacheLookups        metric.Int64Counter
	regionFailures      metric.Int64Counter
}

// NewEngineMetrics creates the engine metric set
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("tagvet.engine")

	scans, err := meter.Int64Counter(
		"tagvet.engine.scans",
		metric.WithDescription("Number of compliance scans"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"tagvet.engine.scan.duration",
		metric.WithDescription("Duration of compliance scans"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resourcesDiscovered, err := meter.Int64Gauge(
		"tagvet.resources.discovered",
		metric.WithDescription("Number of cloud resources in the last scan"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	violationsDetected, err := meter.Int64Counter(
		"tagvet.violations.detected",
		metric.WithDescription("Number of tag policy violations detected"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	driftEvents, err := meter.Int64Counter(
		"tagvet.drift.events",
		metric.WithDescription("Number of tag drift events detected"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"tagvet.cache.lookups",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	regionFailures, err := meter.Int64Counter(
		"tagvet.gateway.region_failures",
		metric.WithDescription("Per-region gateway fetch failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		scans:               scans,
		scanDuration:        scanDuration,
		resourcesDiscovered: resourcesDiscovered,
		violationsDetected:  violationsDetected,
		driftEvents:         driftEvents,
		cacheLookups:        cacheLookups,
		regionFailures:      regionFailures,
	}, nil
}

// RecordScan records one scan with its outcome and duration
func (m *EngineMetrics) RecordScan(ctx context.Context, outcome string, seconds float64, resources, violations int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.scans.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, seconds, attrs)
	m.resourcesDiscovered.Record(ctx, int64(resources))
	m.violationsDetected.Add(ctx, int64(violations))
}

// RecordDriftEvents records detected drift events by severity
func (m *EngineMetrics) RecordDriftEvents(ctx context.Context, severity string, count int) {
	m.driftEvents.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("severity", severity)))
}

// RecordCacheLookup records a cache hit or miss
func (m *EngineMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRegionFailure records one failed per-region fetch
func (m *EngineMetrics) RecordRegionFailure(ctx context.Context, region string) {
	m.regionFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("region", region)))
}
