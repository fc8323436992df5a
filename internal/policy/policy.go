// Package policy maps loading contexts to the capabilities they are granted.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stacklok/provider-registry/internal/capability"
	"github.com/stacklok/provider-registry/internal/loader"
)

//go:generate mockgen -destination=mocks/mock_guard.go -package=mocks -source=policy.go Guard

// Guard protects a live policy from unauthorized reads and writes.
type Guard interface {
	// IsActive reports whether p is the policy currently being enforced
	IsActive(p *Policy) bool

	// Require fails when the caller carried by ctx does not hold c
	Require(ctx context.Context, c capability.Capability) error
}

// Option configures a Policy
type Option func(*Policy)

// WithGuard sets the guard consulted before every accessor and mutator.
// Without a guard the policy is never considered active.
func WithGuard(g Guard) Option {
	return func(p *Policy) {
		p.guard = g
	}
}

// WithDefault sets the permissions granted to unregistered contexts
func WithDefault(set capability.Set) Option {
	return func(p *Policy) {
		p.defaults = set.Clone()
	}
}

// WithPrimary sets the context treated as the primary one. It defaults to
// loader.Default().
func WithPrimary(lc *loader.Context) Option {
	return func(p *Policy) {
		p.primary = lc
	}
}

// Policy grants capability sets keyed by loading context identity.
// Every set handed in or out is copied.
type Policy struct {
	mu          sync.RWMutex
	permissions map[*loader.Context]capability.Set
	defaults    capability.Set
	primary     *loader.Context
	guard       Guard
}

// New creates a policy. The primary context starts with the universal
// capability and unregistered contexts start with nothing.
func New(opts ...Option) *Policy {
	p := &Policy{
		permissions: make(map[*loader.Context]capability.Set),
		defaults:    capability.NewSet(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.primary == nil {
		p.primary = loader.Default()
	}
	p.permissions[p.primary] = capability.NewSet(capability.All)
	return p
}

// SetGuard replaces the guard. It is itself a mutation and is checked as one.
func (p *Policy) SetGuard(ctx context.Context, g Guard) error {
	if err := p.check(ctx, capability.PolicySet); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guard = g
	return nil
}

// Resolve returns the permissions in effect for lc without any guard check.
// It is the lookup used by the enforcement mechanism itself.
func (p *Policy) Resolve(lc *loader.Context) capability.Set {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookup(lc)
}

// PermissionsFor returns the permissions registered for lc, or the default
// permissions when lc has no entry.
func (p *Policy) PermissionsFor(ctx context.Context, lc *loader.Context) (capability.Set, error) {
	if err := p.check(ctx, capability.PolicyGet); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookup(lc), nil
}

// SetPermissionsFor replaces the permissions of lc. A nil or empty set
// removes the entry so lc reverts to the default permissions.
func (p *Policy) SetPermissionsFor(ctx context.Context, lc *loader.Context, set capability.Set) error {
	if lc == nil {
		return fmt.Errorf("loading context cannot be nil")
	}
	if err := p.check(ctx, capability.PolicySet); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if set.Len() == 0 {
		delete(p.permissions, lc)
		slog.Debug("Removed context permissions", "context", lc.Name())
		return nil
	}
	p.permissions[lc] = set.Clone()
	slog.Debug("Updated context permissions", "context", lc.Name(), "capabilities", set.Strings())
	return nil
}

// DefaultPermissions returns the permissions of unregistered contexts
func (p *Policy) DefaultPermissions(ctx context.Context) (capability.Set, error) {
	if err := p.check(ctx, capability.PolicyGet); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaults.Clone(), nil
}

// SetDefaultPermissions replaces the permissions of unregistered contexts
func (p *Policy) SetDefaultPermissions(ctx context.Context, set capability.Set) error {
	if err := p.check(ctx, capability.PolicySet); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = set.Clone()
	return nil
}

// PrimaryPermissions returns the permissions of the primary context
func (p *Policy) PrimaryPermissions(ctx context.Context) (capability.Set, error) {
	if err := p.check(ctx, capability.PolicyGet); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookup(p.primary), nil
}

// SetPrimaryPermissions replaces the permissions of the primary context.
// An empty set is stored as is and revokes everything from the primary context.
func (p *Policy) SetPrimaryPermissions(ctx context.Context, set capability.Set) error {
	if err := p.check(ctx, capability.PolicySet); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permissions[p.primary] = set.Clone()
	return nil
}

// Primary returns the context treated as primary
func (p *Policy) Primary() *loader.Context {
	return p.primary
}

// Contexts returns the number of contexts with an explicit entry
func (p *Policy) Contexts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.permissions)
}

func (p *Policy) lookup(lc *loader.Context) capability.Set {
	if set, ok := p.permissions[lc]; ok {
		return set.Clone()
	}
	return p.defaults.Clone()
}

// check enforces c only while this exact instance is the active policy,
// which lets a policy be configured freely before it is installed.
func (p *Policy) check(ctx context.Context, c capability.Capability) error {
	p.mu.RLock()
	g := p.guard
	p.mu.RUnlock()

	if g == nil || !g.IsActive(p) {
		return nil
	}
	return g.Require(ctx, c)
}
