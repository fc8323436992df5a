// Package telemetry provides OpenTelemetry instrumentation for the provider registry.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RegistryMetricsMeterName is the name used for the registry metrics meter
	RegistryMetricsMeterName = "github.com/stacklok/provider-registry/registry"

	// EnforcementMetricsMeterName is the name used for the capability enforcement meter
	EnforcementMetricsMeterName = "github.com/stacklok/provider-registry/enforce"

	// ScanMetricsMeterName is the name used for the archive scan meter
	ScanMetricsMeterName = "github.com/stacklok/provider-registry/archive"
)

// RegistryMetrics holds the OpenTelemetry instruments for a provider registry
type RegistryMetrics struct {
	sourcesTotal      metric.Int64Gauge
	providersTotal    metric.Int64Counter
	discoveryFailures metric.Int64Counter
}

// NewRegistryMetrics creates a new RegistryMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewRegistryMetrics(provider metric.MeterProvider) (*RegistryMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RegistryMetricsMeterName)

	sourcesTotal, err := meter.Int64Gauge(
		"provider_registry_sources_total",
		metric.WithDescription("Number of sources registered in each registry"),
		metric.WithUnit("{source}"),
	)
	if err != nil {
		return nil, err
	}

	providersTotal, err := meter.Int64Counter(
		"provider_registry_providers_discovered_total",
		metric.WithDescription("Number of providers yielded by discovery"),
		metric.WithUnit("{provider}"),
	)
	if err != nil {
		return nil, err
	}

	discoveryFailures, err := meter.Int64Counter(
		"provider_registry_discovery_failures_total",
		metric.WithDescription("Number of providers skipped because they could not be produced"),
		metric.WithUnit("{provider}"),
	)
	if err != nil {
		return nil, err
	}

	return &RegistryMetrics{
		sourcesTotal:      sourcesTotal,
		providersTotal:    providersTotal,
		discoveryFailures: discoveryFailures,
	}, nil
}

// RecordSourcesTotal records the current number of sources in a registry
func (m *RegistryMetrics) RecordSourcesTotal(ctx context.Context, contract string, count int64) {
	if m == nil || m.sourcesTotal == nil {
		return
	}
	m.sourcesTotal.Record(ctx, count, metric.WithAttributes(attribute.String("contract", contract)))
}

// RecordProviderDiscovered counts one provider yielded from a source
func (m *RegistryMetrics) RecordProviderDiscovered(ctx context.Context, contract, source string) {
	if m == nil || m.providersTotal == nil {
		return
	}
	m.providersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("contract", contract),
		attribute.String("source", source),
	))
}

// RecordDiscoveryFailure counts one provider that failed to be produced
func (m *RegistryMetrics) RecordDiscoveryFailure(ctx context.Context, contract, source string) {
	if m == nil || m.discoveryFailures == nil {
		return
	}
	m.discoveryFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("contract", contract),
		attribute.String("source", source),
	))
}

// EnforcementMetrics holds the OpenTelemetry instruments for capability checks
type EnforcementMetrics struct {
	denials metric.Int64Counter
}

// NewEnforcementMetrics creates a new EnforcementMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewEnforcementMetrics(provider metric.MeterProvider) (*EnforcementMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(EnforcementMetricsMeterName)

	denials, err := meter.Int64Counter(
		"provider_registry_capability_denials_total",
		metric.WithDescription("Number of capability checks that were denied"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	return &EnforcementMetrics{denials: denials}, nil
}

// RecordDenial counts a denied capability check
func (m *EnforcementMetrics) RecordDenial(ctx context.Context, capability, caller string) {
	if m == nil || m.denials == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("context", caller),
	))
}

// ScanMetrics holds the OpenTelemetry instruments for archive directory scans
type ScanMetrics struct {
	scanDuration metric.Float64Histogram
}

// NewScanMetrics creates a new ScanMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewScanMetrics(provider metric.MeterProvider) (*ScanMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ScanMetricsMeterName)

	scanDuration, err := meter.Float64Histogram(
		"provider_registry_scan_duration_seconds",
		metric.WithDescription("Duration of archive directory scans in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	return &ScanMetrics{scanDuration: scanDuration}, nil
}

// RecordScanDuration records how long a directory scan took and how many archives it accepted
func (m *ScanMetrics) RecordScanDuration(ctx context.Context, directory string, duration time.Duration, accepted int) {
	if m == nil || m.scanDuration == nil {
		return
	}
	m.scanDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("directory", directory),
		attribute.Int("accepted", accepted),
	))
}
