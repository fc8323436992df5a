// Package capability defines named capabilities and capability sets.
//
// Names are colon separated segments such as "registry:access". A trailing
// "*" segment grants every capability sharing the prefix ("registry:*"), and
// "*" on its own grants everything.
package capability

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Capability is a named permission
type Capability string

const (
	// RegistryAccess governs enumerating providers and creating registries
	RegistryAccess Capability = "registry:access"

	// RegistryUpdate governs adding, listing and removing registry sources
	RegistryUpdate Capability = "registry:update"

	// PolicyGet governs reading an active capability policy
	PolicyGet Capability = "policy:get"

	// PolicySet governs modifying an active capability policy
	PolicySet Capability = "policy:set"

	// All implies every capability
	All Capability = "*"
)

// Known lists the capabilities checked by this module
var Known = []Capability{RegistryAccess, RegistryUpdate, PolicyGet, PolicySet}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*(:[a-z][a-z0-9_.-]*)*(:\*)?$`)

// Parse validates a capability name
func Parse(name string) (Capability, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("capability name cannot be empty")
	}
	if name == string(All) {
		return All, nil
	}
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("invalid capability name %q", name)
	}
	return Capability(name), nil
}

// Implies reports whether holding c grants other.
func (c Capability) Implies(other Capability) bool {
	if c == other || c == All {
		return true
	}
	if prefix, ok := strings.CutSuffix(string(c), "*"); ok && prefix != "" {
		return strings.HasPrefix(string(other), prefix)
	}
	return false
}

// Set is a collection of capabilities. The zero value and nil are empty.
type Set map[Capability]struct{}

// NewSet creates a set holding caps
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// ParseSet validates names and collects them into a set
func ParseSet(names []string) (Set, error) {
	s := make(Set, len(names))
	for _, name := range names {
		c, err := Parse(name)
		if err != nil {
			return nil, err
		}
		s[c] = struct{}{}
	}
	return s, nil
}

// Add inserts caps into the set
func (s Set) Add(caps ...Capability) {
	for _, c := range caps {
		s[c] = struct{}{}
	}
}

// Remove deletes caps from the set
func (s Set) Remove(caps ...Capability) {
	for _, c := range caps {
		delete(s, c)
	}
}

// Has reports whether c is present as an exact entry
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Implies reports whether any entry in the set grants c
func (s Set) Implies(c Capability) bool {
	if s.Has(c) {
		return true
	}
	for held := range s {
		if held.Implies(c) {
			return true
		}
	}
	return false
}

// Len returns the number of entries
func (s Set) Len() int {
	return len(s)
}

// Clone returns an independent copy. Cloning nil yields an empty, non-nil set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Slice returns the entries sorted by name
func (s Set) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Strings returns the entry names sorted
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, c := range s.Slice() {
		out = append(out, string(c))
	}
	return out
}

// Expand returns the sorted names of the set's entries plus every capability
// in known that the set implies. Wildcards are resolved against known.
func (s Set) Expand(known ...Capability) []string {
	expanded := s.Clone()
	for _, c := range known {
		if s.Implies(c) {
			expanded[c] = struct{}{}
		}
	}
	return expanded.Strings()
}

// String implements fmt.Stringer
func (s Set) String() string {
	return "[" + strings.Join(s.Strings(), " ") + "]"
}
