package archive

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stacklok/provider-registry/internal/filtering"
	"github.com/stacklok/provider-registry/internal/loader"
	"github.com/stacklok/provider-registry/internal/telemetry"
)

// pluginDir lays out:
//
//	a.jar          valid
//	b.zip          valid
//	notes.txt      rejected
//	library.jar    rejected, no services directory
//	nested/c.jar   valid, only found recursively
func pluginDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	providerArchive(t, dir, "a.jar", "example.A\n")
	providerArchive(t, dir, "b.zip", "example.B\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600))
	writeArchive(t, dir, "library.jar", map[string]string{"com/example/Lib.class": "cafebabe"})

	nested := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(nested, 0o700))
	providerArchive(t, nested, "c.jar", "example.C\n")
	return dir
}

func archiveNames(archives []*Archive) []string {
	out := make([]string, 0, len(archives))
	for _, a := range archives {
		out = append(out, filepath.Base(a.Path))
	}
	return out
}

func TestScanDir(t *testing.T) {
	t.Parallel()

	dir := pluginDir(t)

	tests := []struct {
		name string
		opts []ScanOption
		want []string
	}{
		{name: "top level only", want: []string{"a.jar", "b.zip"}},
		{name: "recursive", opts: []ScanOption{WithRecursive(true)}, want: []string{"a.jar", "b.zip", "c.jar"}},
		{name: "serial", opts: []ScanOption{WithConcurrency(0)}, want: []string{"a.jar", "b.zip"}},
		{name: "wide", opts: []ScanOption{WithConcurrency(32), WithRecursive(true)}, want: []string{"a.jar", "b.zip", "c.jar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			archives, err := ScanDir(context.Background(), dir, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, archiveNames(archives))
		})
	}
}

func TestScanDir_Filter(t *testing.T) {
	t.Parallel()

	dir := pluginDir(t)

	tests := []struct {
		name      string
		include   []string
		exclude   []string
		recursive bool
		want      []string
		rejected  []string
	}{
		{
			name:     "include extension",
			include:  []string{"*.jar"},
			want:     []string{"a.jar"},
			rejected: []string{"library.jar"},
		},
		{
			name:     "exclude name",
			exclude:  []string{"a.*"},
			want:     []string{"b.zip"},
			rejected: []string{"library.jar", "notes.txt"},
		},
		{
			name:      "nested path",
			include:   []string{"nested/*"},
			recursive: true,
			want:      []string{"c.jar"},
		},
		{
			name:      "exclude wins",
			include:   []string{"*.jar"},
			exclude:   []string{"nested/*"},
			recursive: true,
			want:      []string{"a.jar"},
			rejected:  []string{"library.jar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			filter, err := filtering.NewNameFilter(tt.include, tt.exclude)
			require.NoError(t, err)

			var mu sync.Mutex
			var rejected []string
			archives, err := ScanDir(context.Background(), dir,
				WithFilter(filter),
				WithRecursive(tt.recursive),
				WithRejected(func(path string, _ error) {
					mu.Lock()
					defer mu.Unlock()
					rejected = append(rejected, filepath.Base(path))
				}),
			)
			require.NoError(t, err)
			assert.Equal(t, tt.want, archiveNames(archives))
			// Filtered files are skipped before validation
			assert.ElementsMatch(t, tt.rejected, rejected)
		})
	}
}

func TestScanDir_Rejected(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	rejected := make(map[string]error)

	_, err := ScanDir(context.Background(), pluginDir(t), WithRejected(func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		rejected[filepath.Base(path)] = err
	}))
	require.NoError(t, err)

	require.Len(t, rejected, 2)
	assert.ErrorIs(t, rejected["notes.txt"], ErrInvalidArchive)
	assert.ErrorIs(t, rejected["library.jar"], ErrInvalidArchive)
}

func TestScanDir_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file.jar")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := ScanDir(context.Background(), filepath.Join(dir, "missing"))
	require.Error(t, err)

	_, err = ScanDir(context.Background(), file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ScanDir(ctx, pluginDir(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestScanDir_EmptyDirectory(t *testing.T) {
	t.Parallel()

	archives, err := ScanDir(context.Background(), t.TempDir(), WithRecursive(true))
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestScanDir_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := telemetry.NewScanMetrics(mp)
	require.NoError(t, err)

	_, err = ScanDir(context.Background(), pluginDir(t), WithScanMetrics(metrics))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, telemetry.ScanMetricsMeterName, rm.ScopeMetrics[0].Scope.Name)
}

func TestSources(t *testing.T) {
	t.Parallel()

	parent := loader.New("plugins", nil)
	srcs, err := Sources(context.Background(), pluginDir(t), []Option{WithParent(parent)}, WithRecursive(true))
	require.NoError(t, err)
	require.Len(t, srcs, 3)

	seen := make(map[string]bool)
	for _, src := range srcs {
		assert.Same(t, parent, src.Context().Parent())
		assert.False(t, seen[src.ID().String()])
		seen[src.ID().String()] = true
	}
	assert.Equal(t, []string{"example.C"}, srcs[2].Context().Providers(greeterContract))

	_, err = Sources(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
}
