package discovery

import (
	"fmt"
	"slices"
	"sync"

	"github.com/stacklok/provider-registry/internal/validators"
)

// Factory instantiates one provider implementation.
type Factory func() (any, error)

// Catalog resolves declared provider names to the factories that build them.
// It stands in for the runtime's dynamic instantiation facility: provider
// declarations name implementations, the catalog knows how to construct them.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	fallback  func(name string) Factory
}

// CatalogOption configures a Catalog
type CatalogOption func(*Catalog)

// WithFallback sets a factory resolver consulted for names that were never registered
func WithFallback(fallback func(name string) Factory) CatalogOption {
	return func(c *Catalog) {
		c.fallback = fallback
	}
}

// NewCatalog creates an empty catalog
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		factories: make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register associates a provider name with its factory.
// Registering the same name twice is an error.
func (c *Catalog) Register(name string, factory Factory) error {
	if _, err := validators.ValidateProviderName(name); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("factory for provider %s is required", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	c.factories[name] = factory
	return nil
}

// Lookup returns the factory registered for name, falling back to the
// catalog's fallback resolver when set.
func (c *Catalog) Lookup(name string) (Factory, bool) {
	c.mu.RLock()
	factory, ok := c.factories[name]
	fallback := c.fallback
	c.mu.RUnlock()

	if ok {
		return factory, true
	}
	if fallback != nil {
		if factory := fallback(name); factory != nil {
			return factory, true
		}
	}
	return nil, false
}

var defaultCatalog = NewCatalog()

// DefaultCatalog returns the process-wide catalog. Applications register
// their provider factories here, typically from init functions.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// Names returns the sorted names of the registered factories
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Descriptor is a placeholder provider that only carries the declared name.
// It lets tooling enumerate providers without instantiating implementations.
type Descriptor struct {
	Name string
}

// DescriptorFactory is a fallback resolver producing Descriptors
func DescriptorFactory(name string) Factory {
	return func() (any, error) {
		return &Descriptor{Name: name}, nil
	}
}
