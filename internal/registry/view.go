package registry

import (
	"iter"
	"slices"

	"github.com/google/uuid"

	"github.com/stacklok/provider-registry/internal/source"
)

// SourceView is a read-only snapshot of a registry's sources taken when it
// was requested. Later additions and removals are not reflected.
type SourceView struct {
	items []*source.Source
}

// Len returns the number of sources in the view
func (v *SourceView) Len() int {
	return len(v.items)
}

// At returns the i-th source in registration order
func (v *SourceView) At(i int) *source.Source {
	return v.items[i]
}

// Get returns the source with the given identifier, or nil
func (v *SourceView) Get(id uuid.UUID) *source.Source {
	for _, src := range v.items {
		if src.ID() == id {
			return src
		}
	}
	return nil
}

// Contains reports whether src is part of the view
func (v *SourceView) Contains(src *source.Source) bool {
	return src != nil && v.Get(src.ID()) != nil
}

// All iterates over the sources in registration order
func (v *SourceView) All() iter.Seq2[int, *source.Source] {
	return slices.All(v.items)
}

// Slice returns a copy of the sources in registration order
func (v *SourceView) Slice() []*source.Source {
	return slices.Clone(v.items)
}

// Add always fails with ErrUnsupportedMutation
func (*SourceView) Add(*source.Source) error {
	return ErrUnsupportedMutation
}

// Remove always fails with ErrUnsupportedMutation
func (*SourceView) Remove(*source.Source) error {
	return ErrUnsupportedMutation
}

// Clear always fails with ErrUnsupportedMutation
func (*SourceView) Clear() error {
	return ErrUnsupportedMutation
}
