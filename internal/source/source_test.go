package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/provider-registry/internal/loader"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil context is rejected", func(t *testing.T) {
		t.Parallel()

		src, err := New(nil)
		require.Error(t, err)
		assert.Nil(t, src)
	})

	t.Run("binds the context", func(t *testing.T) {
		t.Parallel()

		lc := loader.New("plugins", nil)
		src, err := New(lc)
		require.NoError(t, err)

		assert.Same(t, lc, src.Context())
		assert.Equal(t, "plugins", src.Name())
		assert.Contains(t, src.String(), src.ID().String())
	})

	t.Run("identifiers are unique", func(t *testing.T) {
		t.Parallel()

		lc := loader.New("plugins", nil)
		seen := make(map[string]bool)
		for range 100 {
			src, err := New(lc)
			require.NoError(t, err)
			assert.False(t, seen[src.ID().String()])
			seen[src.ID().String()] = true
		}
	})
}

func TestSource_Equal(t *testing.T) {
	t.Parallel()

	lc := loader.New("plugins", nil)
	a, err := New(lc)
	require.NoError(t, err)
	b, err := New(lc)
	require.NoError(t, err)

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b), "same context, different identifier")
	assert.False(t, a.Equal(nil))

	var nilSrc *Source
	assert.True(t, nilSrc.Equal(nil))
}

func TestSingletons(t *testing.T) {
	t.Parallel()

	assert.Same(t, Default(), Default())
	assert.Same(t, Extensions(), Extensions())
	assert.Same(t, loader.Default(), Default().Context())
	assert.Same(t, loader.Extensions(), Extensions().Context())
	assert.False(t, Default().Equal(Extensions()))
}
