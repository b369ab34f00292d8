package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/distance"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Len(t, v, 8*32)
	for _, x := range v {
		assert.GreaterOrEqual(t, x, float32(0))
		assert.Less(t, x, float32(1))
	}
}

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UnitVectors(8, 32)

	for i := range 8 {
		var sum float32
		for _, x := range v[i*32 : (i+1)*32] {
			sum += x * x
		}
		assert.InDelta(t, 1.0, sum, 1e-4)
	}
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)

	rng.Reset()
	v2 := rng.UniformVectors(1, 10)

	assert.Equal(t, v1, v2)
}

func TestVectorStream(t *testing.T) {
	rng := NewRNG(1)

	s, vectors := rng.VectorStream("vector", 25, 4, 10)
	batches, err := batch.Collect(t.Context(), s)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Equal(t, 5, batches[2].NumRows())
	assert.Len(t, vectors, 100)

	ids, err := batches[2].Uint64(batch.RowIDColumn)
	require.NoError(t, err)
	assert.Equal(t, batch.Uint64Column{20, 21, 22, 23, 24}, ids)
}

func TestPartitionedStream(t *testing.T) {
	rng := NewRNG(1)

	s := rng.PartitionedStream(100, 7, 3, 30)
	rows, err := batch.CountRows(s.All(t.Context()))
	require.NoError(t, err)
	assert.Equal(t, 100, rows)

	for b, err := range s.All(t.Context()) {
		require.NoError(t, err)
		parts, err := b.Uint32(batch.PartIDColumn)
		require.NoError(t, err)
		for _, p := range parts {
			assert.Less(t, p, uint32(7))
		}
	}
}

func TestBrutePartition(t *testing.T) {
	centroids := []float32{0, 0, 10, 10, 0, 0}

	assert.Equal(t, 1, BrutePartition([]float32{9, 9}, centroids, 2, distance.SquaredL2))
	// Duplicate centroids resolve to the lower index.
	assert.Equal(t, 0, BrutePartition([]float32{1, 1}, centroids, 2, distance.SquaredL2))
}
