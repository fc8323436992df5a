// Package loader provides loading contexts: the isolation boundaries from
// which provider implementations of a contract are discovered.
package loader

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// Context is an opaque handle identifying where providers come from.
// Two contexts are the same context only if they are the same pointer;
// names are informational and need not be unique.
type Context struct {
	id     uuid.UUID
	name   string
	parent *Context
	origin string

	// declarations maps a contract name to the provider names this context
	// declares for it. Immutable after construction.
	declarations map[string][]string
}

// Option configures a Context at construction time
type Option func(*Context)

// WithOrigin records where the context was built from (archive path, URL)
func WithOrigin(origin string) Option {
	return func(c *Context) {
		c.origin = origin
	}
}

// WithProviders declares provider names for a contract
func WithProviders(contract string, providers ...string) Option {
	return func(c *Context) {
		c.declarations[contract] = append(c.declarations[contract], providers...)
	}
}

// WithDeclarations declares provider names for several contracts at once
func WithDeclarations(declarations map[string][]string) Option {
	return func(c *Context) {
		for contract, providers := range declarations {
			c.declarations[contract] = append(c.declarations[contract], providers...)
		}
	}
}

// New creates a loading context. parent may be nil for a root context.
func New(name string, parent *Context, opts ...Option) *Context {
	c := &Context{
		id:           uuid.New(),
		name:         name,
		parent:       parent,
		declarations: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the random identifier assigned to the context.
func (c *Context) ID() uuid.UUID {
	return c.id
}

// Name returns the human-readable name of the context.
func (c *Context) Name() string {
	return c.name
}

// Parent returns the parent context, or nil for a root.
func (c *Context) Parent() *Context {
	return c.parent
}

// Origin returns where the context was built from, if known.
func (c *Context) Origin() string {
	return c.origin
}

// Providers returns a copy of the provider names declared directly by this
// context for the given contract. Ancestors are not consulted.
func (c *Context) Providers(contract string) []string {
	return slices.Clone(c.declarations[contract])
}

// Contracts returns the sorted contract names this context declares providers for.
func (c *Context) Contracts() []string {
	contracts := make([]string, 0, len(c.declarations))
	for contract := range c.declarations {
		contracts = append(contracts, contract)
	}
	slices.Sort(contracts)
	return contracts
}

// Lineage returns the ancestry of c ordered root first, ending with c.
func (c *Context) Lineage() []*Context {
	var lineage []*Context
	for cur := c; cur != nil; cur = cur.parent {
		lineage = append(lineage, cur)
	}
	slices.Reverse(lineage)
	return lineage
}

// String implements fmt.Stringer
func (c *Context) String() string {
	if c == nil {
		return "<nil>"
	}
	return c.name + "@" + c.id.String()
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying lc as the calling loading context.
func WithCaller(ctx context.Context, lc *Context) context.Context {
	return context.WithValue(ctx, callerKey{}, lc)
}

// CallerFrom returns the calling loading context stored in ctx.
// Code that never declared a caller runs as the process-default context.
func CallerFrom(ctx context.Context) *Context {
	if ctx != nil {
		if lc, ok := ctx.Value(callerKey{}).(*Context); ok && lc != nil {
			return lc
		}
	}
	return Default()
}
