package face

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/watchpost/internal/store"
)

func TestGallery_Match(t *testing.T) {
	g := NewGallery(DefaultThreshold)
	g.Replace([]store.EmbeddingRecord{
		{Name: "alice", Vector: []float32{1, 0, 0}},
		{Name: "bob", Vector: []float32{0, 1, 0}},
	})

	t.Run("identical vector", func(t *testing.T) {
		m, ok, err := g.Match(Embedding{1, 0, 0})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "alice", m.Name)
		assert.InDelta(t, 1.0, m.Similarity, 1e-6)
	})

	t.Run("orthogonal vector", func(t *testing.T) {
		_, ok, err := g.Match(Embedding{0, 0, 1})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("below threshold", func(t *testing.T) {
		v, err := Normalize([]float32{1, 0, 2})
		require.NoError(t, err)
		_, ok, err := g.Match(v)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, _, err := g.Match(Embedding{1, 0})
		assert.ErrorIs(t, err, ErrDimension)
	})
}

func TestGallery_Empty(t *testing.T) {
	g := NewGallery(DefaultThreshold)

	_, ok, err := g.Match(Embedding{1, 0})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, 0, g.Dim())
}

func TestGallery_Replace(t *testing.T) {
	g := NewGallery(0.9)

	skipped := g.Replace([]store.EmbeddingRecord{
		{Name: "alice", Vector: []float32{2, 0}},
		{Name: "alice", Vector: []float32{0, 3}},
		{Name: "bob", Vector: []float32{1, 1, 1}},
		{Name: "carol", Vector: []float32{0, 0}},
	})

	assert.Equal(t, 2, skipped)
	assert.Equal(t, []string{"alice"}, g.Names())
	assert.Equal(t, 2, g.Dim())

	// every stored vector of an identity is considered
	m, ok, err := g.Match(Embedding{0, 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", m.Name)

	g.Replace(nil)
	assert.Equal(t, 0, g.Len())
}
