// Package source provides Sources: identified, immutable bindings between
// a registry and one loading context.
package source

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stacklok/provider-registry/internal/loader"
)

// Source pairs a process-unique identifier with a loading context.
// The registry holds a reference to the context but does not own it.
type Source struct {
	id uuid.UUID
	lc *loader.Context
}

// New creates a Source with a freshly generated random identifier
func New(lc *loader.Context) (*Source, error) {
	if lc == nil {
		return nil, fmt.Errorf("loading context cannot be nil")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate source identifier: %w", err)
	}
	return &Source{id: id, lc: lc}, nil
}

// ID returns the identifier of the source
func (s *Source) ID() uuid.UUID {
	return s.id
}

// Context returns the loading context of the source
func (s *Source) Context() *loader.Context {
	return s.lc
}

// Name returns the name of the underlying loading context
func (s *Source) Name() string {
	return s.lc.Name()
}

// Equal reports whether both sources carry the same identifier
func (s *Source) Equal(other *Source) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.id == other.id
}

// String implements fmt.Stringer
func (s *Source) String() string {
	return fmt.Sprintf("%s (%s)", s.lc.Name(), s.id)
}

var (
	singletonMu sync.Mutex
	defaultSrc  *Source
	extSrc      *Source
)

// Default returns the Source bound to the process-default loading context.
// The same Source is returned on every call.
func Default() *Source {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if defaultSrc == nil {
		defaultSrc = mustNew(loader.Default())
	}
	return defaultSrc
}

// Extensions returns the Source bound to the platform-extension loading context.
// The same Source is returned on every call.
func Extensions() *Source {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if extSrc == nil {
		extSrc = mustNew(loader.Extensions())
	}
	return extSrc
}

func mustNew(lc *loader.Context) *Source {
	src, err := New(lc)
	if err != nil {
		panic(err)
	}
	return src
}
