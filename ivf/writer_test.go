package ivf

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/shuffle"
)

type memoryWriter struct {
	batches []*batch.Batch
	rows    uint64
	failAt  int
}

func (w *memoryWriter) WriteBatch(_ context.Context, b *batch.Batch) error {
	if w.failAt > 0 && len(w.batches)+1 == w.failAt {
		return errors.New("disk full")
	}
	w.batches = append(w.batches, b)
	w.rows += uint64(b.NumRows())
	return nil
}

func (w *memoryWriter) Offset() uint64 { return w.rows }

func partitionOf(t *testing.T, id uint32, n int, split int) shuffle.Partition {
	t.Helper()
	s, err := batch.PartitionedSchema(2)
	require.NoError(t, err)
	ids := make(batch.Uint64Column, n)
	parts := make(batch.Uint32Column, n)
	for i := range parts {
		ids[i] = uint64(id)*1000 + uint64(i)
		parts[i] = id
	}
	b, err := batch.New(s, ids, parts, batch.NewFixedSizeBinaryColumn(2, make([]byte, 2*n)))
	require.NoError(t, err)
	return shuffle.Partition{ID: id, NumRows: n, Batches: func(yield func(*batch.Batch, error) bool) {
		for i := 0; i < n; i += split {
			if !yield(b.Slice(i, min(n, i+split)), nil) {
				return
			}
		}
	}}
}

func seqOf(parts ...shuffle.Partition) iter.Seq2[shuffle.Partition, error] {
	return func(yield func(shuffle.Partition, error) bool) {
		for _, p := range parts {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func TestWriteIndexPartitions(t *testing.T) {
	ivf, err := New(make([]float32, 6*2), 2)
	require.NoError(t, err)
	w := &memoryWriter{}

	r := model.PartitionRange{Start: 1, End: 6}
	err = WriteIndexPartitions(t.Context(), w, ivf, seqOf(
		partitionOf(t, 2, 5, 2),
		partitionOf(t, 3, 0, 1),
		partitionOf(t, 4, 3, 10),
	), r)
	require.NoError(t, err)

	assert.Len(t, w.batches, 4)
	assert.Equal(t, []uint64{0, 0, 0, 5, 5, 8}, ivf.Offsets)
	assert.Equal(t, []uint32{0, 0, 5, 0, 3, 0}, ivf.Lengths)
	assert.Equal(t, uint64(8), ivf.NumRows())
	assert.Equal(t, uint64(8), ivf.NextOffset())
}

func TestWriteIndexPartitionsOrder(t *testing.T) {
	r := model.FullRange(4)

	tests := []struct {
		name  string
		parts []shuffle.Partition
	}{
		{"descending", []shuffle.Partition{partitionOf(t, 2, 1, 1), partitionOf(t, 1, 1, 1)}},
		{"repeated", []shuffle.Partition{partitionOf(t, 2, 1, 1), partitionOf(t, 2, 1, 1)}},
		{"out of range", []shuffle.Partition{partitionOf(t, 4, 1, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ivf, err := New(make([]float32, 4), 1)
			require.NoError(t, err)
			err = WriteIndexPartitions(t.Context(), &memoryWriter{}, ivf, seqOf(tt.parts...), r)
			require.ErrorIs(t, err, ErrPartitionOrder)
		})
	}
}

func TestWriteIndexPartitionsMixedBatch(t *testing.T) {
	ivf, err := New(make([]float32, 4), 1)
	require.NoError(t, err)

	p := partitionOf(t, 1, 3, 3)
	p.ID = 2
	err = WriteIndexPartitions(t.Context(), &memoryWriter{}, ivf, seqOf(p), model.FullRange(4))
	require.ErrorIs(t, err, ErrPartitionOrder)
}

func TestWriteIndexPartitionsErrors(t *testing.T) {
	ivf, err := New(make([]float32, 4), 1)
	require.NoError(t, err)

	err = WriteIndexPartitions(t.Context(), &memoryWriter{failAt: 2}, ivf, seqOf(partitionOf(t, 0, 4, 1)), model.FullRange(4))
	assert.EqualError(t, err, "disk full")

	upstream := errors.New("shuffle failed")
	failing := func(yield func(shuffle.Partition, error) bool) {
		if !yield(partitionOf(t, 0, 1, 1), nil) {
			return
		}
		yield(shuffle.Partition{}, upstream)
	}
	err = WriteIndexPartitions(t.Context(), &memoryWriter{}, ivf, failing, model.FullRange(4))
	require.ErrorIs(t, err, upstream)

	err = WriteIndexPartitions(t.Context(), &memoryWriter{}, ivf, seqOf(), model.PartitionRange{Start: 2, End: 9})
	require.ErrorIs(t, err, model.ErrInvalidRange)
}
