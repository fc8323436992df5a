package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stacklok/provider-registry/internal/source"
)

//go:generate mockgen -destination=mocks/mock_registrar.go -package=mocks -source=watcher.go Registrar

// Registrar receives the sources a Watcher discovers
type Registrar interface {
	AddSource(ctx context.Context, src *source.Source) error
	RemoveSource(ctx context.Context, src *source.Source) (bool, error)
}

// WatcherOption configures a Watcher
type WatcherOption func(*Watcher)

// WithOpenOptions sets the options used to build archive contexts
func WithOpenOptions(opts ...Option) WatcherOption {
	return func(w *Watcher) {
		w.openOpts = opts
	}
}

// WithWatchScanOptions sets the options used for directory scans. A filter
// set here also applies to the archives reported by file events.
func WithWatchScanOptions(opts ...ScanOption) WatcherOption {
	return func(w *Watcher) {
		w.scanOpts = opts
	}
}

// Watcher keeps a registrar in step with the provider archives of one
// directory. Archives appearing in the directory are added as new sources;
// archives disappearing are removed. Archives rewritten in place keep their
// existing source. With WithRecursive the whole tree is followed, including
// subdirectories created while watching.
type Watcher struct {
	dir       string
	registrar Registrar
	openOpts  []Option
	scanOpts  []ScanOption
	scan      *scanOptions

	mu      sync.Mutex // Protects tracked
	tracked map[string]*source.Source

	watcherMu sync.Mutex // Protects watcher
	watcher   *fsnotify.Watcher
}

// NewWatcher creates a Watcher for dir
func NewWatcher(dir string, registrar Registrar, opts ...WatcherOption) (*Watcher, error) {
	if registrar == nil {
		return nil, fmt.Errorf("registrar is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	w := &Watcher{
		dir:       abs,
		registrar: registrar,
		tracked:   make(map[string]*source.Source),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.scan = newScanOptions(w.scanOpts)
	return w, nil
}

// Tracked returns the sorted paths of the archives currently registered
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.tracked))
}

// Source returns the source registered for the archive at path, or nil
func (w *Watcher) Source(path string) *source.Source {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracked[path]
}

// Sync reconciles the registrar with the directory contents
func (w *Watcher) Sync(ctx context.Context) error {
	archives, err := ScanDir(ctx, w.dir, w.scanOpts...)
	if err != nil {
		return err
	}

	present := make(map[string]*Archive, len(archives))
	for _, a := range archives {
		present[a.Path] = a
	}

	for _, path := range w.Tracked() {
		if _, ok := present[path]; !ok {
			if err := w.remove(ctx, path); err != nil {
				return err
			}
		}
	}
	for _, a := range archives {
		if err := w.add(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Watch syncs the directory once and then follows changes until ctx is
// cancelled. The ctx also carries the caller identity used for every
// registrar call.
func (w *Watcher) Watch(ctx context.Context) error {
	w.watcherMu.Lock()
	if w.watcher != nil {
		w.watcherMu.Unlock()
		return fmt.Errorf("archive watcher is already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.watcherMu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.watcher = fw
	w.watcherMu.Unlock()

	if err := w.addWatches(fw, w.dir); err != nil {
		w.release(fw)
		return err
	}
	if err := w.Sync(ctx); err != nil {
		w.release(fw)
		return err
	}

	slog.Info("Watching archive directory", "directory", w.dir, "archives", len(w.Tracked()))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping archive watcher", "directory", w.dir)
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			w.handle(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Error("Archive watcher error", "directory", w.dir, "error", err)
		}
	}
}

// Close releases the file watcher
func (w *Watcher) Close() error {
	w.watcherMu.Lock()
	defer w.watcherMu.Unlock()

	if w.watcher == nil {
		return nil
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close file watcher: %w", err)
	}
	w.watcher = nil
	return nil
}

// release undoes a Watch that failed before following events
func (w *Watcher) release(fw *fsnotify.Watcher) {
	w.watcherMu.Lock()
	defer w.watcherMu.Unlock()

	if err := fw.Close(); err != nil {
		slog.Warn("Failed to close file watcher", "directory", w.dir, "error", err)
	}
	if w.watcher == fw {
		w.watcher = nil
	}
}

// addWatches registers root, and every directory below it when recursive
func (w *Watcher) addWatches(fw *fsnotify.Watcher, root string) error {
	if !w.scan.recursive {
		if err := fw.Add(root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
		return nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) && path != root {
				slog.Warn("Skipping unreadable path", "path", path, "error", err)
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return nil
}

func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	path := event.Name

	if w.scan.recursive && w.handleDirectory(ctx, fw, event) {
		return
	}
	if !hasArchiveExtension(path) || !w.scan.selects(w.dir, path) {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if err := w.remove(ctx, path); err != nil {
			slog.Error("Failed to remove archive source", "path", path, "error", err)
		}

	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		if w.Source(path) != nil {
			return
		}
		a, err := Read(path)
		if err != nil {
			// Partially written archives fail here and are retried on the next write.
			slog.Debug("Archive not ready", "path", path, "error", err)
			return
		}
		if err := w.add(ctx, a); err != nil {
			slog.Error("Failed to add archive source", "path", path, "error", err)
		}
	}
}

// handleDirectory follows directories appearing below a recursive watch and
// drops the archives of directories that went away. It reports whether the
// event was about a directory.
func (w *Watcher) handleDirectory(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) bool {
	path := event.Name

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return false
		}
		if err := w.addWatches(fw, path); err != nil {
			slog.Error("Failed to watch new directory", "path", path, "error", err)
			return true
		}
		// Archives written before the watch was added produce no events
		if err := w.Sync(ctx); err != nil {
			slog.Error("Failed to sync archive directory", "directory", w.dir, "error", err)
		}
		return true

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		// A directory moved out of the tree keeps its inotify watch otherwise
		_ = fw.Remove(path)

		prefix := path + string(filepath.Separator)
		removed := false
		for _, tracked := range w.Tracked() {
			if !strings.HasPrefix(tracked, prefix) {
				continue
			}
			removed = true
			if err := w.remove(ctx, tracked); err != nil {
				slog.Error("Failed to remove archive source", "path", tracked, "error", err)
			}
		}
		return removed
	}
	return false
}

func (w *Watcher) add(ctx context.Context, a *Archive) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tracked[a.Path]; ok {
		return nil
	}
	src, err := source.New(a.Context(w.openOpts...))
	if err != nil {
		return err
	}
	if err := w.registrar.AddSource(ctx, src); err != nil {
		return fmt.Errorf("failed to register %s: %w", a.Path, err)
	}
	w.tracked[a.Path] = src
	slog.Info("Archive source added", "path", a.Path, "source", src.ID())
	return nil
}

func (w *Watcher) remove(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	src, ok := w.tracked[path]
	if !ok {
		return nil
	}
	if _, err := w.registrar.RemoveSource(ctx, src); err != nil {
		return fmt.Errorf("failed to unregister %s: %w", path, err)
	}
	delete(w.tracked, path)
	slog.Info("Archive source removed", "path", path, "source", src.ID())
	return nil
}
