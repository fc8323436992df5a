package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	parent := New("parent", nil)
	child := New("child", parent,
		WithOrigin("/plugins/child.zip"),
		WithProviders("example.Greeter", "hello", "bonjour"),
		WithDeclarations(map[string][]string{
			"example.Greeter": {"hola"},
			"example.Store":   {"memory"},
		}),
	)

	assert.Equal(t, "child", child.Name())
	assert.Same(t, parent, child.Parent())
	assert.Equal(t, "/plugins/child.zip", child.Origin())
	assert.ElementsMatch(t, []string{"hello", "bonjour", "hola"}, child.Providers("example.Greeter"))
	assert.Equal(t, []string{"memory"}, child.Providers("example.Store"))
	assert.Empty(t, child.Providers("example.Unknown"))
	assert.Equal(t, []string{"example.Greeter", "example.Store"}, child.Contracts())
	assert.NotEqual(t, parent.ID(), child.ID())
}

func TestContext_ProvidersReturnsCopy(t *testing.T) {
	t.Parallel()

	lc := New("ctx", nil, WithProviders("example.Greeter", "hello"))

	providers := lc.Providers("example.Greeter")
	providers[0] = "tampered"

	assert.Equal(t, []string{"hello"}, lc.Providers("example.Greeter"))
}

func TestContext_IdentityIsPointer(t *testing.T) {
	t.Parallel()

	a := New("same", nil)
	b := New("same", nil)

	assert.NotSame(t, a, b)
	assert.False(t, a == b)
}

func TestContext_Lineage(t *testing.T) {
	t.Parallel()

	root := New("root", nil)
	mid := New("mid", root)
	leaf := New("leaf", mid)

	assert.Equal(t, []*Context{root, mid, leaf}, leaf.Lineage())
	assert.Equal(t, []*Context{root}, root.Lineage())
}

func TestDefaultAndExtensions(t *testing.T) {
	t.Parallel()

	def := Default()
	ext := Extensions()

	assert.Same(t, def, Default())
	assert.Same(t, ext, Extensions())
	assert.Same(t, ext, def.Parent())
	assert.Nil(t, ext.Parent())
	assert.Equal(t, DefaultName, def.Name())
	assert.Equal(t, ExtensionsName, ext.Name())
}

func TestRegisterBuiltin(t *testing.T) {
	t.Parallel()

	t.Run("rejects empty names", func(t *testing.T) {
		t.Parallel()

		err := RegisterBuiltin("", "provider")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})

	t.Run("rejects registration after default is built", func(t *testing.T) {
		t.Parallel()

		_ = Default()
		err := RegisterBuiltin("example.Greeter", "late")
		require.ErrorIs(t, err, ErrSealed)
		assert.NotContains(t, Default().Providers("example.Greeter"), "late")
	})
}

func TestCallerFrom(t *testing.T) {
	t.Parallel()

	t.Run("defaults to process context", func(t *testing.T) {
		t.Parallel()

		assert.Same(t, Default(), CallerFrom(context.Background()))
	})

	t.Run("returns the declared caller", func(t *testing.T) {
		t.Parallel()

		lc := New("plugin", Default())
		ctx := WithCaller(context.Background(), lc)
		assert.Same(t, lc, CallerFrom(ctx))
	})

	t.Run("nil caller falls back to default", func(t *testing.T) {
		t.Parallel()

		ctx := WithCaller(context.Background(), nil)
		assert.Same(t, Default(), CallerFrom(ctx))
	})
}

func TestContext_String(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, "<nil>", nilCtx.String())

	lc := New("named", nil)
	assert.Contains(t, lc.String(), "named@")
}
