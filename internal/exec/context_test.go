package exec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/resource"
)

func partitioned(t *testing.T, ids []uint64, parts []uint32) *batch.Batch {
	t.Helper()
	s, err := batch.PartitionedSchema(1)
	require.NoError(t, err)
	codes := make([]byte, len(ids))
	for i := range codes {
		codes[i] = byte(ids[i])
	}
	b, err := batch.New(s, batch.Uint64Column(ids), batch.Uint32Column(parts), batch.NewFixedSizeBinaryColumn(1, codes))
	require.NoError(t, err)
	return b
}

func TestSortByIsStable(t *testing.T) {
	b1 := partitioned(t, []uint64{0, 1, 2}, []uint32{2, 0, 2})
	b2 := partitioned(t, []uint64{3, 4, 5}, []uint32{1, 0, 2})
	stream := batch.FromBatches(b1.Schema(), b1, b2)

	c := NewUnbounded()
	sorted, err := c.SortBy(t.Context(), stream, batch.PartIDColumn)
	require.NoError(t, err)
	defer sorted.Release()

	ids, err := sorted.Batch.Uint64(batch.RowIDColumn)
	require.NoError(t, err)
	parts, err := sorted.Batch.Uint32(batch.PartIDColumn)
	require.NoError(t, err)

	assert.Equal(t, batch.Uint32Column{0, 0, 1, 2, 2, 2}, parts)
	assert.Equal(t, batch.Uint64Column{1, 4, 3, 0, 2, 5}, ids)

	codes, err := sorted.Batch.FixedSizeBinary(batch.PQCodeColumn)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 4, 3, 0, 2, 5}, codes.Values)
}

func TestSortByReleasesMemory(t *testing.T) {
	b1 := partitioned(t, []uint64{0, 1}, []uint32{1, 0})
	b2 := partitioned(t, []uint64{2, 3}, []uint32{1, 0})

	c := NewBounded(1 << 20)
	sorted, err := c.SortBy(t.Context(), batch.FromBatches(b1.Schema(), b1, b2), batch.PartIDColumn)
	require.NoError(t, err)

	assert.Equal(t, sorted.Batch.SizeBytes(), c.Controller().MemoryUsage())
	assert.GreaterOrEqual(t, c.Controller().PeakMemoryUsage(), 2*sorted.Batch.SizeBytes())

	sorted.Release()
	assert.Zero(t, c.Controller().MemoryUsage())
}

func TestSortByFailsOverBudget(t *testing.T) {
	b := partitioned(t, make([]uint64, 100), make([]uint32, 100))

	c := NewBounded(b.SizeBytes() - 1)
	_, err := c.SortBy(t.Context(), batch.FromBatches(b.Schema(), b), batch.PartIDColumn)
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Zero(t, c.Controller().MemoryUsage())

	// Source fits, but the sort working set does not.
	c = NewBounded(b.SizeBytes() + 10)
	_, err = c.SortBy(t.Context(), batch.FromBatches(b.Schema(), b), batch.PartIDColumn)
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Zero(t, c.Controller().MemoryUsage())
}

func TestSortByMissingColumn(t *testing.T) {
	s := batch.MustSchema(batch.Field{Name: batch.RowIDColumn, Type: batch.TypeUint64})
	_, err := NewUnbounded().SortBy(t.Context(), batch.FromBatches(s), batch.PartIDColumn)
	assert.ErrorIs(t, err, batch.ErrSchema)
}

func TestSortByEmptyStream(t *testing.T) {
	s, err := batch.PartitionedSchema(1)
	require.NoError(t, err)

	sorted, err := NewUnbounded().SortBy(t.Context(), batch.FromBatches(s), batch.PartIDColumn)
	require.NoError(t, err)
	assert.Equal(t, 0, sorted.Batch.NumRows())
}

func TestGroupRuns(t *testing.T) {
	b := partitioned(t, []uint64{0, 1, 2, 3, 4, 5}, []uint32{0, 0, 1, 3, 3, 3})

	seq, err := GroupRuns(b, batch.PartIDColumn)
	require.NoError(t, err)

	var keys []uint32
	var sizes []int
	for g := range seq {
		keys = append(keys, g.Key)
		sizes = append(sizes, g.Batch.NumRows())
	}
	assert.Equal(t, []uint32{0, 1, 3}, keys)
	assert.Equal(t, []int{2, 1, 3}, sizes)

	// Early break.
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)

	_, err = GroupRuns(b, "missing")
	assert.True(t, errors.Is(err, batch.ErrSchema))
}

func TestFromEnv(t *testing.T) {
	t.Setenv(resource.MemoryLimitEnv, "4KiB")
	c := FromEnv(nil)
	assert.Equal(t, int64(4096), c.Controller().MemoryLimit())

	t.Setenv(resource.MemoryLimitEnv, "garbage")
	c = FromEnv(nil)
	assert.False(t, c.Controller().Bounded())
}
