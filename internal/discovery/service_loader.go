package discovery

import (
	"fmt"

	"github.com/stacklok/provider-registry/internal/loader"
)

// ServiceLoader is the Provider backed by context declarations and a Catalog.
//
// Lookups delegate to the parent first: the bound context's lineage is walked
// root first and every context contributes the providers it declares for the
// contract. A provider name declared by several contexts in the lineage is
// produced once and is defined by the root-most context declaring it.
type ServiceLoader struct {
	catalog *Catalog
}

var _ Provider = (*ServiceLoader)(nil)

// NewServiceLoader creates a ServiceLoader resolving providers through catalog.
// A nil catalog means DefaultCatalog.
func NewServiceLoader(catalog *Catalog) *ServiceLoader {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &ServiceLoader{catalog: catalog}
}

// Discover implements Provider
func (s *ServiceLoader) Discover(contract Contract, lc *loader.Context) (Sequence, error) {
	if contract.Name == "" {
		return nil, fmt.Errorf("contract name is required")
	}
	if lc == nil {
		return nil, fmt.Errorf("loading context is required")
	}
	return &declaredSequence{catalog: s.catalog, contract: contract, lc: lc}, nil
}

type declaredSequence struct {
	catalog  *Catalog
	contract Contract
	lc       *loader.Context
}

type declaration struct {
	name     string
	defining *loader.Context
}

// Iterator resolves declarations eagerly and instantiates lazily.
func (d *declaredSequence) Iterator() Iterator {
	seen := make(map[string]bool)
	var decls []declaration
	for _, ctx := range d.lc.Lineage() {
		for _, name := range ctx.Providers(d.contract.Name) {
			if seen[name] {
				continue
			}
			seen[name] = true
			decls = append(decls, declaration{name: name, defining: ctx})
		}
	}
	return &declaredIterator{catalog: d.catalog, contract: d.contract, decls: decls, pos: -1}
}

type declaredIterator struct {
	catalog  *Catalog
	contract Contract
	decls    []declaration
	pos      int
	current  Candidate
}

func (it *declaredIterator) Next() bool {
	if it.pos+1 >= len(it.decls) {
		it.pos = len(it.decls)
		it.current = Candidate{}
		return false
	}
	it.pos++
	it.current = it.instantiate(it.decls[it.pos])
	return true
}

func (it *declaredIterator) Candidate() Candidate {
	return it.current
}

func (it *declaredIterator) instantiate(decl declaration) (c Candidate) {
	c = Candidate{Name: decl.name, Defining: decl.defining}

	factory, ok := it.catalog.Lookup(decl.name)
	if !ok {
		c.Err = fmt.Errorf("%w: %s: provider %s not found", ErrDiscoveryFailure, it.contract, decl.name)
		return c
	}

	defer func() {
		if r := recover(); r != nil {
			c.Instance = nil
			c.Err = fmt.Errorf("%w: %s: provider %s panicked: %v", ErrDiscoveryFailure, it.contract, decl.name, r)
		}
	}()

	instance, err := factory()
	if err != nil {
		c.Err = fmt.Errorf("%w: %s: provider %s could not be instantiated: %w", ErrDiscoveryFailure, it.contract, decl.name, err)
		return c
	}
	if instance == nil {
		c.Err = fmt.Errorf("%w: %s: provider %s returned no instance", ErrDiscoveryFailure, it.contract, decl.name)
		return c
	}
	c.Instance = instance
	return c
}
