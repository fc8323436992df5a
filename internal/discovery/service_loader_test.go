package discovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/provider-registry/internal/loader"
)

type greeter interface {
	Greet() string
}

type staticGreeter string

func (g staticGreeter) Greet() string { return string(g) }

func greeterFactory(msg string) Factory {
	return func() (any, error) {
		return staticGreeter(msg), nil
	}
}

func collect(t *testing.T, seq Sequence) []Candidate {
	t.Helper()

	var out []Candidate
	it := seq.Iterator()
	for it.Next() {
		out = append(out, it.Candidate())
	}
	return out
}

func TestContractOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "github.com/stacklok/provider-registry/internal/discovery.greeter", ContractOf[greeter]().Name)
	assert.Equal(t, "int", ContractOf[int]().Name)
	assert.Equal(t, "[]string", ContractOf[[]string]().String())
}

func TestCatalog_Register(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(c *Catalog)
		pname   string
		factory Factory
		wantErr string
	}{
		{
			name:    "registers a factory",
			pname:   "hello",
			factory: greeterFactory("hello"),
		},
		{
			name:    "empty name is rejected",
			pname:   "",
			factory: greeterFactory("hello"),
			wantErr: "provider name cannot be empty",
		},
		{
			name:    "malformed name is rejected",
			pname:   "example.my-greeter",
			factory: greeterFactory("hello"),
			wantErr: "is invalid",
		},
		{
			name:    "nil factory is rejected",
			pname:   "hello",
			wantErr: "factory for provider hello is required",
		},
		{
			name: "duplicate name is rejected",
			setup: func(c *Catalog) {
				require.NoError(t, c.Register("hello", greeterFactory("hello")))
			},
			pname:   "hello",
			factory: greeterFactory("again"),
			wantErr: "already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewCatalog()
			if tt.setup != nil {
				tt.setup(c)
			}

			err := c.Register(tt.pname, tt.factory)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.pname}, c.Names())
		})
	}
}

func TestCatalog_LookupFallback(t *testing.T) {
	t.Parallel()

	c := NewCatalog(WithFallback(DescriptorFactory))

	factory, ok := c.Lookup("anything")
	require.True(t, ok)

	instance, err := factory()
	require.NoError(t, err)
	assert.Equal(t, &Descriptor{Name: "anything"}, instance)

	_, ok = NewCatalog().Lookup("anything")
	assert.False(t, ok)
}

func TestServiceLoader_Discover(t *testing.T) {
	t.Parallel()

	contract := ContractOf[greeter]()

	t.Run("requires a contract name", func(t *testing.T) {
		t.Parallel()

		_, err := NewServiceLoader(nil).Discover(Contract{}, loader.New("x", nil))
		require.Error(t, err)
	})

	t.Run("requires a context", func(t *testing.T) {
		t.Parallel()

		_, err := NewServiceLoader(nil).Discover(contract, nil)
		require.Error(t, err)
	})

	t.Run("walks lineage parent first", func(t *testing.T) {
		t.Parallel()

		catalog := NewCatalog()
		for _, name := range []string{"root_a", "child_a", "child_b"} {
			require.NoError(t, catalog.Register(name, greeterFactory(name)))
		}

		root := loader.New("root", nil, loader.WithProviders(contract.Name, "root_a"))
		child := loader.New("child", root, loader.WithProviders(contract.Name, "child_a", "child_b"))

		seq, err := NewServiceLoader(catalog).Discover(contract, child)
		require.NoError(t, err)

		got := collect(t, seq)
		require.Len(t, got, 3)
		assert.Equal(t, "root_a", got[0].Name)
		assert.Same(t, root, got[0].Defining)
		assert.Equal(t, "child_a", got[1].Name)
		assert.Same(t, child, got[1].Defining)
		assert.Equal(t, staticGreeter("child_b"), got[2].Instance)
	})

	t.Run("name declared by parent and child is defined by parent", func(t *testing.T) {
		t.Parallel()

		catalog := NewCatalog()
		require.NoError(t, catalog.Register("shared", greeterFactory("shared")))

		root := loader.New("root", nil, loader.WithProviders(contract.Name, "shared"))
		child := loader.New("child", root, loader.WithProviders(contract.Name, "shared"))

		seq, err := NewServiceLoader(catalog).Discover(contract, child)
		require.NoError(t, err)

		got := collect(t, seq)
		require.Len(t, got, 1)
		assert.Same(t, root, got[0].Defining)
	})

	t.Run("failures are reported per candidate", func(t *testing.T) {
		t.Parallel()

		catalog := NewCatalog()
		require.NoError(t, catalog.Register("broken", func() (any, error) {
			return nil, errors.New("boom")
		}))
		require.NoError(t, catalog.Register("panicky", func() (any, error) {
			panic("kaboom")
		}))
		require.NoError(t, catalog.Register("empty", func() (any, error) {
			return nil, nil
		}))
		require.NoError(t, catalog.Register("good", greeterFactory("good")))

		lc := loader.New("ctx", nil, loader.WithProviders(contract.Name, "missing", "broken", "panicky", "empty", "good"))
		seq, err := NewServiceLoader(catalog).Discover(contract, lc)
		require.NoError(t, err)

		got := collect(t, seq)
		require.Len(t, got, 5)
		for _, c := range got[:4] {
			assert.ErrorIs(t, c.Err, ErrDiscoveryFailure, c.Name)
			assert.Nil(t, c.Instance)
			assert.Same(t, lc, c.Defining)
		}
		assert.Contains(t, got[0].Err.Error(), "not found")
		assert.Contains(t, got[2].Err.Error(), "panicked")
		assert.NoError(t, got[4].Err)
		assert.Equal(t, staticGreeter("good"), got[4].Instance)
	})

	t.Run("sequence is restartable", func(t *testing.T) {
		t.Parallel()

		catalog := NewCatalog(WithFallback(DescriptorFactory))
		lc := loader.New("ctx", nil, loader.WithProviders(contract.Name, "a", "b"))
		seq, err := NewServiceLoader(catalog).Discover(contract, lc)
		require.NoError(t, err)

		first := collect(t, seq)
		second := collect(t, seq)
		assert.Equal(t, first, second)
		assert.Len(t, first, 2)
	})

	t.Run("exhausted iterator stays exhausted", func(t *testing.T) {
		t.Parallel()

		seq, err := NewServiceLoader(nil).Discover(contract, loader.New("empty", nil))
		require.NoError(t, err)

		it := seq.Iterator()
		assert.False(t, it.Next())
		assert.False(t, it.Next())
		assert.Equal(t, Candidate{}, it.Candidate())
	})
}
