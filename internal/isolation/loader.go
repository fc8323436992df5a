// Package isolation restricts discovery to the providers defined by one
// exact loading context, hiding the providers the context merely inherits
// from its ancestors.
package isolation

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/stacklok/provider-registry/internal/discovery"
	"github.com/stacklok/provider-registry/internal/loader"
)

// ErrExhausted is returned by Next when the sequence has no more providers.
var ErrExhausted = errors.New("no more providers in sequence")

// Diagnostic describes a provider that belonged to the bound context but
// could not be produced. Context mismatches are never reported.
type Diagnostic struct {
	// Contract is the contract being discovered
	Contract discovery.Contract

	// Provider is the declared provider name
	Provider string

	// Context is the bound loading context
	Context *loader.Context

	// Cause is the underlying failure
	Cause error
}

// DiagnosticFunc receives diagnostics as they are produced
type DiagnosticFunc func(Diagnostic)

// Option configures a Loader
type Option func(*options)

type options struct {
	diagnostics DiagnosticFunc
}

// WithDiagnostics sets the side channel receiving per-provider failures
func WithDiagnostics(fn DiagnosticFunc) Option {
	return func(o *options) {
		o.diagnostics = fn
	}
}

// Loader produces the providers of contract T defined by one loading context.
type Loader[T any] struct {
	contract    discovery.Contract
	lc          *loader.Context
	seq         discovery.Sequence
	diagnostics DiagnosticFunc
}

// New binds a Loader to lc. The raw mechanism is asked for its enumeration
// exactly once, here.
func New[T any](
	contract discovery.Contract,
	lc *loader.Context,
	provider discovery.Provider,
	opts ...Option,
) (*Loader[T], error) {
	if lc == nil {
		return nil, fmt.Errorf("loading context cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("discovery provider cannot be nil")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	seq, err := provider.Discover(contract, lc)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s in %s: %w", contract, lc.Name(), err)
	}

	return &Loader[T]{
		contract:    contract,
		lc:          lc,
		seq:         seq,
		diagnostics: o.diagnostics,
	}, nil
}

// Context returns the bound loading context
func (l *Loader[T]) Context() *loader.Context {
	return l.lc
}

// Iterator starts a new pass over the providers. Each call starts over.
func (l *Loader[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{loader: l, underlying: l.seq.Iterator()}
}

// All returns a fresh pass over the providers as a range-over-func sequence
func (l *Loader[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		it := l.Iterator()
		for it.HasNext() {
			v, err := it.Next()
			if err != nil || !yield(v) {
				return
			}
		}
	}
}

func (l *Loader[T]) report(name string, cause error) {
	slog.Debug("Skipping provider",
		"contract", l.contract.Name,
		"provider", name,
		"context", l.lc.Name(),
		"error", cause,
	)
	if l.diagnostics != nil {
		l.diagnostics(Diagnostic{
			Contract: l.contract,
			Provider: name,
			Context:  l.lc,
			Cause:    cause,
		})
	}
}

// Iterator is a single pass over a Loader's providers using a one-item lookahead.
// It is not safe for concurrent use.
type Iterator[T any] struct {
	loader     *Loader[T]
	underlying discovery.Iterator
	next       T
	buffered   bool
}

// HasNext reports whether another provider is available, pulling from the
// raw enumeration until a provider defined by the bound context is found.
func (it *Iterator[T]) HasNext() bool {
	if it.buffered {
		return true
	}

	for it.underlying.Next() {
		c := it.underlying.Candidate()

		// Inherited or of unknown origin: not ours, skip silently.
		if c.Defining == nil || c.Defining != it.loader.lc {
			continue
		}

		if c.Err != nil {
			it.loader.report(c.Name, c.Err)
			continue
		}

		v, ok := c.Instance.(T)
		if !ok {
			it.loader.report(c.Name, fmt.Errorf("%w: %s: provider %s of type %T does not implement the contract",
				discovery.ErrDiscoveryFailure, it.loader.contract, c.Name, c.Instance))
			continue
		}

		it.next = v
		it.buffered = true
		return true
	}
	return false
}

// Next returns the buffered provider and clears the buffer.
// It returns ErrExhausted when no provider is available.
func (it *Iterator[T]) Next() (T, error) {
	if !it.HasNext() {
		var zero T
		return zero, ErrExhausted
	}

	v := it.next
	var zero T
	it.next = zero
	it.buffered = false
	return v, nil
}
