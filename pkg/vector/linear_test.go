package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuldgraph/skuld/pkg/storage"
)

func TestLinear_InsertAndContains(t *testing.T) {
	idx := NewLinear()
	assert.Equal(t, 0, idx.Len())

	idx.Insert(1, []float32{0.1, 0.2, 0.3})
	assert.True(t, idx.Contains(1))
	assert.False(t, idx.Contains(2))
	assert.Equal(t, 1, idx.Len())

	vec, ok := idx.Get(1)
	require.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestLinear_InsertReplaces(t *testing.T) {
	idx := NewLinear()
	idx.Insert(1, []float32{0, 0})
	idx.Insert(1, []float32{5, 5})

	assert.Equal(t, 1, idx.Len())
	hits := idx.KNN([]float32{5, 5}, 1)
	require.Len(t, hits, 1)
	assert.Equal(t, storage.NodeID(1), hits[0].ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
}

func TestLinear_KNN(t *testing.T) {
	t.Run("exact_neighbors_in_2d", func(t *testing.T) {
		idx := NewLinear()
		idx.Insert(1, []float32{0, 0})
		idx.Insert(2, []float32{1, 0})
		idx.Insert(3, []float32{0, 1})
		idx.Insert(4, []float32{1, 1})
		idx.Insert(5, []float32{5, 5})

		hits := idx.KNN([]float32{0, 0}, 3)
		require.Len(t, hits, 3)
		assert.Equal(t, storage.NodeID(1), hits[0].ID)
		assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)

		// Nodes 2 and 3 are tied at distance 1, in either order.
		for _, hit := range hits[1:] {
			assert.Contains(t, []storage.NodeID{2, 3}, hit.ID)
			assert.InDelta(t, 1.0, hit.Distance, 1e-6)
		}
	})

	t.Run("ascending_order", func(t *testing.T) {
		idx := NewLinear()
		idx.Insert(1, []float32{0})
		idx.Insert(2, []float32{3})
		idx.Insert(3, []float32{1})
		idx.Insert(4, []float32{2})

		hits := idx.KNN([]float32{0}, 4)
		require.Len(t, hits, 4)
		assert.Equal(t, []storage.NodeID{1, 3, 4, 2},
			[]storage.NodeID{hits[0].ID, hits[1].ID, hits[2].ID, hits[3].ID})
		for i := 0; i < len(hits)-1; i++ {
			assert.LessOrEqual(t, hits[i].Distance, hits[i+1].Distance)
		}
	})

	t.Run("k_larger_than_collection", func(t *testing.T) {
		idx := NewLinear()
		idx.Insert(1, []float32{0})
		idx.Insert(2, []float32{1})

		assert.Len(t, idx.KNN([]float32{0}, 10), 2)
	})

	t.Run("empty_index", func(t *testing.T) {
		idx := NewLinear()
		assert.Empty(t, idx.KNN([]float32{0, 0}, 5))
	})

	t.Run("zero_k", func(t *testing.T) {
		idx := NewLinear()
		idx.Insert(1, []float32{0})
		assert.Empty(t, idx.KNN([]float32{0}, 0))
	})

	t.Run("dimension_mismatch_filtered", func(t *testing.T) {
		idx := NewLinear()
		idx.Insert(1, []float32{0, 0})
		idx.Insert(2, []float32{0, 0, 0})

		hits := idx.KNN([]float32{0, 0}, 10)
		require.Len(t, hits, 1)
		assert.Equal(t, storage.NodeID(1), hits[0].ID)
	})
}
