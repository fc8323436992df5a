// Package discovery defines the raw discovery mechanism: given a loading
// context and a contract, it enumerates and instantiates the providers the
// context can see, reporting for each one the context that defined it.
package discovery

import (
	"errors"
	"reflect"

	"github.com/stacklok/provider-registry/internal/loader"
)

// ErrDiscoveryFailure marks a single provider that could not be instantiated.
// It never terminates an enumeration.
var ErrDiscoveryFailure = errors.New("provider discovery failed")

// Contract identifies the service contract providers implement.
type Contract struct {
	// Name is the fully qualified contract name used in provider declarations
	Name string
}

// ContractOf derives the contract for T from its package path and type name.
func ContractOf[T any]() Contract {
	t := reflect.TypeFor[T]()
	if t.PkgPath() == "" || t.Name() == "" {
		return Contract{Name: t.String()}
	}
	return Contract{Name: t.PkgPath() + "." + t.Name()}
}

// String implements fmt.Stringer
func (c Contract) String() string {
	return c.Name
}

// Candidate is one provider produced by a raw enumeration.
type Candidate struct {
	// Name is the provider name as declared
	Name string

	// Instance is the instantiated provider; nil when Err is set
	Instance any

	// Defining is the context that defined the provider; nil when unknown
	Defining *loader.Context

	// Err is set when the provider could not be instantiated
	Err error
}

// Iterator walks the candidates of one enumeration.
type Iterator interface {
	// Next advances to the next candidate, reporting false when exhausted
	Next() bool

	// Candidate returns the candidate Next advanced to
	Candidate() Candidate
}

// Sequence is a restartable enumeration: every call to Iterator starts over.
type Sequence interface {
	Iterator() Iterator
}

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=types.go Provider

// Provider is the raw discovery mechanism.
type Provider interface {
	// Discover prepares the enumeration of contract providers visible from lc.
	// It may block on I/O.
	Discover(contract Contract, lc *loader.Context) (Sequence, error)
}
