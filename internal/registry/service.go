// Package registry aggregates the providers of one contract across several
// independently managed sources. Every operation is checked against the
// capabilities of the calling loading context.
package registry

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/provider-registry/internal/capability"
	"github.com/stacklok/provider-registry/internal/discovery"
	"github.com/stacklok/provider-registry/internal/enforce"
	"github.com/stacklok/provider-registry/internal/isolation"
	"github.com/stacklok/provider-registry/internal/otel"
	"github.com/stacklok/provider-registry/internal/source"
	"github.com/stacklok/provider-registry/internal/telemetry"
)

var (
	// ErrDuplicateSource is returned when a source with the same identifier is already registered
	ErrDuplicateSource = errors.New("source already registered")

	// ErrUnsupportedMutation is returned when mutating a read-only source view
	ErrUnsupportedMutation = errors.New("source view is read-only")
)

// Service holds the sources of one contract and the isolated loader bound to
// each of them.
type Service[T any] struct {
	mu      sync.RWMutex // Protects sources, loaders and order together
	sources map[uuid.UUID]*source.Source
	loaders map[uuid.UUID]*isolation.Loader[T]
	order   []uuid.UUID

	contract    discovery.Contract
	provider    discovery.Provider
	enforcer    Enforcer
	diagnostics isolation.DiagnosticFunc
	metrics     *telemetry.RegistryMetrics
	tracer      trace.Tracer
}

// New creates an empty registry for contract T. The caller must hold
// registry:access.
func New[T any](ctx context.Context, opts ...Option) (*Service[T], error) {
	o := &options{contract: discovery.ContractOf[T]()}
	for _, opt := range opts {
		opt(o)
	}

	if o.contract.Name == "" {
		return nil, fmt.Errorf("contract name is required")
	}
	if o.provider == nil {
		o.provider = discovery.NewServiceLoader(nil)
	}
	if o.enforcer == nil {
		o.enforcer = enforce.Global()
	}

	ctx, span := otel.StartSpan(ctx, o.tracer, "registry.New",
		trace.WithAttributes(otel.AttrContract.String(o.contract.Name)))
	defer span.End()

	if err := o.enforcer.Require(ctx, capability.RegistryAccess); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	return &Service[T]{
		sources:     make(map[uuid.UUID]*source.Source),
		loaders:     make(map[uuid.UUID]*isolation.Loader[T]),
		contract:    o.contract,
		provider:    o.provider,
		enforcer:    o.enforcer,
		diagnostics: o.diagnostics,
		metrics:     o.metrics,
		tracer:      o.tracer,
	}, nil
}

// Contract returns the contract whose providers the registry aggregates
func (s *Service[T]) Contract() discovery.Contract {
	return s.contract
}

// Len returns the number of registered sources
func (s *Service[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// AddSource registers src and binds an isolated loader to its context.
// It requires registry:update and fails with ErrDuplicateSource when a
// source with the same identifier is already present.
func (s *Service[T]) AddSource(ctx context.Context, src *source.Source) error {
	if src == nil {
		return fmt.Errorf("source cannot be nil")
	}

	ctx, span := s.startSpan(ctx, "registry.AddSource",
		otel.AttrSourceID.String(src.ID().String()),
		otel.AttrSourceName.String(src.Name()),
	)
	defer span.End()

	if err := s.enforcer.Require(ctx, capability.RegistryUpdate); err != nil {
		otel.RecordError(span, err)
		return err
	}

	s.mu.RLock()
	_, exists := s.sources[src.ID()]
	s.mu.RUnlock()
	if exists {
		err := fmt.Errorf("%w: %s", ErrDuplicateSource, src)
		otel.RecordError(span, err)
		return err
	}

	// Discovery may block on I/O, so the loader is built before taking the lock.
	l, err := isolation.New[T](s.contract, src.Context(), s.provider,
		isolation.WithDiagnostics(s.diagnosticsFor(ctx, src)))
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to bind source %s: %w", src, err)
	}

	s.mu.Lock()
	if _, exists := s.sources[src.ID()]; exists {
		s.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrDuplicateSource, src)
		otel.RecordError(span, err)
		return err
	}
	s.sources[src.ID()] = src
	s.loaders[src.ID()] = l
	s.order = append(s.order, src.ID())
	count := len(s.order)
	s.mu.Unlock()

	s.metrics.RecordSourcesTotal(ctx, s.contract.Name, int64(count))
	slog.Info("Source added",
		"contract", s.contract.Name,
		"source", src.Name(),
		"id", src.ID(),
		"sources", count,
	)
	return nil
}

// Sources returns a read-only snapshot of the registered sources in
// registration order. It requires registry:update.
func (s *Service[T]) Sources(ctx context.Context) (*SourceView, error) {
	ctx, span := s.startSpan(ctx, "registry.Sources")
	defer span.End()

	if err := s.enforcer.Require(ctx, capability.RegistryUpdate); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	s.mu.RLock()
	items := make([]*source.Source, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, s.sources[id])
	}
	s.mu.RUnlock()

	span.SetAttributes(otel.AttrSourceCount.Int(len(items)))
	return &SourceView{items: items}, nil
}

// RemoveSource unregisters src and reports whether it was registered.
// It requires registry:update. A nil or unknown source is not an error.
func (s *Service[T]) RemoveSource(ctx context.Context, src *source.Source) (bool, error) {
	if src == nil {
		if err := s.enforcer.Require(ctx, capability.RegistryUpdate); err != nil {
			return false, err
		}
		return false, nil
	}
	removed, err := s.RemoveSourceByID(ctx, src.ID())
	return removed != nil, err
}

// RemoveSourceByID unregisters the source with the given identifier and
// returns it, or nil when no such source is registered. It requires
// registry:update.
func (s *Service[T]) RemoveSourceByID(ctx context.Context, id uuid.UUID) (*source.Source, error) {
	ctx, span := s.startSpan(ctx, "registry.RemoveSource", otel.AttrSourceID.String(id.String()))
	defer span.End()

	if err := s.enforcer.Require(ctx, capability.RegistryUpdate); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	s.mu.Lock()
	src, ok := s.sources[id]
	if ok {
		delete(s.sources, id)
		delete(s.loaders, id)
		for i, existing := range s.order {
			if existing == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
	count := len(s.order)
	s.mu.Unlock()

	span.SetAttributes(otel.AttrSourceRemoved.Bool(ok))
	if !ok {
		return nil, nil
	}

	s.metrics.RecordSourcesTotal(ctx, s.contract.Name, int64(count))
	slog.Info("Source removed",
		"contract", s.contract.Name,
		"source", src.Name(),
		"id", id,
		"sources", count,
	)
	return src, nil
}

// DiscoverAll returns the providers of every registered source, one source
// after another in registration order. It requires registry:access.
//
// The set of sources is captured when DiscoverAll is called and the sequence
// is consumed without holding the registry lock: sources added later are not
// visited, and a source removed while the sequence is being consumed may
// still yield the providers it had left.
func (s *Service[T]) DiscoverAll(ctx context.Context) (iter.Seq[T], error) {
	seq, err := s.discover(ctx, "registry.DiscoverAll")
	if err != nil {
		return nil, err
	}
	return func(yield func(T) bool) {
		for _, v := range seq {
			if !yield(v) {
				return
			}
		}
	}, nil
}

// DiscoverWithSource is DiscoverAll with every provider paired with the
// source that defined it.
func (s *Service[T]) DiscoverWithSource(ctx context.Context) (iter.Seq2[*source.Source, T], error) {
	return s.discover(ctx, "registry.DiscoverWithSource")
}

func (s *Service[T]) discover(ctx context.Context, spanName string) (iter.Seq2[*source.Source, T], error) {
	ctx, span := s.startSpan(ctx, spanName)
	defer span.End()

	if err := s.enforcer.Require(ctx, capability.RegistryAccess); err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	type binding struct {
		src    *source.Source
		loader *isolation.Loader[T]
	}

	s.mu.RLock()
	snapshot := make([]binding, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, binding{src: s.sources[id], loader: s.loaders[id]})
	}
	s.mu.RUnlock()

	span.SetAttributes(otel.AttrSourceCount.Int(len(snapshot)))
	recordCtx := context.WithoutCancel(ctx)

	return func(yield func(*source.Source, T) bool) {
		for _, b := range snapshot {
			for v := range b.loader.All() {
				s.metrics.RecordProviderDiscovered(recordCtx, s.contract.Name, b.src.Name())
				if !yield(b.src, v) {
					return
				}
			}
		}
	}, nil
}

func (s *Service[T]) diagnosticsFor(ctx context.Context, src *source.Source) isolation.DiagnosticFunc {
	recordCtx := context.WithoutCancel(ctx)
	return func(d isolation.Diagnostic) {
		slog.Warn("Provider could not be loaded",
			"contract", d.Contract.Name,
			"provider", d.Provider,
			"source", src.Name(),
			"error", d.Cause,
		)
		s.metrics.RecordDiscoveryFailure(recordCtx, s.contract.Name, src.Name())
		if s.diagnostics != nil {
			s.diagnostics(d)
		}
	}
}

func (s *Service[T]) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, otel.AttrContract.String(s.contract.Name))
	return otel.StartSpan(ctx, s.tracer, name, trace.WithAttributes(attrs...))
}
