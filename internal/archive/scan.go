package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/provider-registry/internal/filtering"
	"github.com/stacklok/provider-registry/internal/otel"
	"github.com/stacklok/provider-registry/internal/source"
	"github.com/stacklok/provider-registry/internal/telemetry"
)

// DefaultConcurrency bounds how many archives are validated at once
const DefaultConcurrency = 4

// ScanOption configures ScanDir
type ScanOption func(*scanOptions)

type scanOptions struct {
	recursive   bool
	concurrency int
	rejected    func(path string, err error)
	filter      *filtering.NameFilter
	metrics     *telemetry.ScanMetrics
	tracer      trace.Tracer
}

// WithRecursive descends into subdirectories
func WithRecursive(recursive bool) ScanOption {
	return func(o *scanOptions) {
		o.recursive = recursive
	}
}

// WithConcurrency sets how many archives are validated in parallel
func WithConcurrency(n int) ScanOption {
	return func(o *scanOptions) {
		o.concurrency = n
	}
}

// WithRejected sets a callback receiving every file that failed validation
func WithRejected(fn func(path string, err error)) ScanOption {
	return func(o *scanOptions) {
		o.rejected = fn
	}
}

// WithFilter restricts the scan to the files selected by f. Names are
// matched relative to the scanned directory with '/' separators.
func WithFilter(f *filtering.NameFilter) ScanOption {
	return func(o *scanOptions) {
		o.filter = f
	}
}

// WithScanMetrics sets the instruments recording scan durations
func WithScanMetrics(m *telemetry.ScanMetrics) ScanOption {
	return func(o *scanOptions) {
		o.metrics = m
	}
}

// WithScanTracer sets the tracer used for scan spans
func WithScanTracer(tracer trace.Tracer) ScanOption {
	return func(o *scanOptions) {
		o.tracer = tracer
	}
}

// ScanDir returns the valid provider archives in dir sorted by path.
// Files that are not provider archives are skipped, not reported as errors.
func ScanDir(ctx context.Context, dir string, opts ...ScanOption) ([]*Archive, error) {
	o := newScanOptions(opts)

	ctx, span := otel.StartSpan(ctx, o.tracer, "archive.ScanDir",
		trace.WithAttributes(otel.AttrArchivePath.String(dir)))
	defer span.End()
	start := time.Now()

	files, err := listFiles(dir, o.recursive)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	files = slices.DeleteFunc(files, func(path string) bool { return !o.selects(dir, path) })

	results := make([]*Archive, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := Read(path)
			if err != nil {
				slog.Debug("Skipping file", "path", path, "error", err)
				if o.rejected != nil {
					o.rejected(path, err)
				}
				return nil
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("scan of %s interrupted: %w", dir, err)
	}

	archives := slices.DeleteFunc(results, func(a *Archive) bool { return a == nil })
	slices.SortFunc(archives, func(a, b *Archive) int { return strings.Compare(a.Path, b.Path) })

	span.SetAttributes(otel.AttrResultCount.Int(len(archives)))
	o.metrics.RecordScanDuration(ctx, dir, time.Since(start), len(archives))
	slog.Info("Scanned archive directory",
		"directory", dir,
		"files", len(files),
		"archives", len(archives),
		"recursive", o.recursive,
	)
	return archives, nil
}

// Sources scans dir and binds a new Source to every valid archive found
func Sources(ctx context.Context, dir string, openOpts []Option, scanOpts ...ScanOption) ([]*source.Source, error) {
	archives, err := ScanDir(ctx, dir, scanOpts...)
	if err != nil {
		return nil, err
	}

	out := make([]*source.Source, 0, len(archives))
	for _, a := range archives {
		src, err := source.New(a.Context(openOpts...))
		if err != nil {
			return nil, fmt.Errorf("failed to create source for %s: %w", a.Path, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func newScanOptions(opts []ScanOption) *scanOptions {
	o := &scanOptions{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o
}

// selects reports whether the filter accepts path, a file below dir
func (o *scanOptions) selects(dir, path string) bool {
	if o.filter == nil {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	include, reason := o.filter.ShouldInclude(filepath.ToSlash(rel))
	if !include {
		slog.Debug("Skipping filtered file", "path", path, "reason", reason)
	}
	return include
}

func listFiles(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		return files, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) && path != dir {
				slog.Warn("Skipping unreadable path", "path", path, "error", err)
				return nil
			}
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return files, nil
}
