package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collect gathers every metric recorded under the given scope, keyed by name
func collect(t *testing.T, reader *sdkmetric.ManualReader, scopeName string) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		if scope.Scope.Name != scopeName {
			continue
		}
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func newReaderProvider(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func TestNewMetrics_NilProvider(t *testing.T) {
	t.Parallel()

	registry, err := NewRegistryMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, registry)

	enforcement, err := NewEnforcementMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, enforcement)

	scan, err := NewScanMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, scan)
}

func TestNilMetrics_AreNoOps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var registry *RegistryMetrics
	var enforcement *EnforcementMetrics
	var scan *ScanMetrics

	assert.NotPanics(t, func() {
		registry.RecordSourcesTotal(ctx, "example.Greeter", 3)
		registry.RecordProviderDiscovered(ctx, "example.Greeter", "plugins")
		registry.RecordDiscoveryFailure(ctx, "example.Greeter", "plugins")
		enforcement.RecordDenial(ctx, "registry:update", "plugins")
		scan.RecordScanDuration(ctx, "/plugins", time.Second, 2)
	})
}

func TestRegistryMetrics(t *testing.T) {
	t.Parallel()

	reader, mp := newReaderProvider(t)
	metrics, err := NewRegistryMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	ctx := context.Background()
	metrics.RecordSourcesTotal(ctx, "example.Greeter", 3)
	metrics.RecordProviderDiscovered(ctx, "example.Greeter", "plugins")
	metrics.RecordProviderDiscovered(ctx, "example.Greeter", "plugins")
	metrics.RecordDiscoveryFailure(ctx, "example.Greeter", "plugins")

	got := collect(t, reader, RegistryMetricsMeterName)

	gauge, ok := got["provider_registry_sources_total"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(3), gauge.DataPoints[0].Value)

	discovered, ok := got["provider_registry_providers_discovered_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, discovered.DataPoints, 1)
	assert.Equal(t, int64(2), discovered.DataPoints[0].Value)

	failures, ok := got["provider_registry_discovery_failures_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	assert.Equal(t, int64(1), failures.DataPoints[0].Value)
}

func TestEnforcementMetrics(t *testing.T) {
	t.Parallel()

	reader, mp := newReaderProvider(t)
	metrics, err := NewEnforcementMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordDenial(ctx, "registry:update", "plugins")
	metrics.RecordDenial(ctx, "registry:update", "plugins")
	metrics.RecordDenial(ctx, "policy:set", "plugins")

	got := collect(t, reader, EnforcementMetricsMeterName)
	denials, ok := got["provider_registry_capability_denials_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, denials.DataPoints, 2)

	var total int64
	for _, dp := range denials.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}

func TestScanMetrics(t *testing.T) {
	t.Parallel()

	reader, mp := newReaderProvider(t)
	metrics, err := NewScanMetrics(mp)
	require.NoError(t, err)

	metrics.RecordScanDuration(context.Background(), "/plugins", 250*time.Millisecond, 4)

	got := collect(t, reader, ScanMetricsMeterName)
	hist, ok := got["provider_registry_scan_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.25, hist.DataPoints[0].Sum, 0.0001)
}
