package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ivfbuild/model"
)

func rng(start, end uint32) model.PartitionRange {
	return model.PartitionRange{Start: start, End: end}
}

func TestCovered(t *testing.T) {
	committed := []model.PartitionRange{rng(0, 4), rng(4, 8), rng(10, 12)}

	tests := []struct {
		r    model.PartitionRange
		want bool
	}{
		{rng(0, 8), true},
		{rng(2, 6), true},
		{rng(10, 12), true},
		{rng(6, 10), false},
		{rng(0, 12), false},
		{rng(12, 13), false},
	}
	for _, tt := range tests {
		t.Run(tt.r.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Covered(committed, tt.r))
		})
	}
	assert.False(t, Covered(nil, rng(0, 1)))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	l := NewMemory()

	require.NoError(t, l.Commit(ctx, "docs", rng(4, 8)))
	require.NoError(t, l.Commit(ctx, "docs", rng(0, 4)))
	require.NoError(t, l.Commit(ctx, "other", rng(0, 8)))

	err := l.Commit(ctx, "docs", rng(6, 10))
	assert.ErrorIs(t, err, ErrOverlap)
	assert.ErrorIs(t, l.Commit(ctx, "docs", rng(3, 3)), model.ErrInvalidRange)

	got, err := l.Committed(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []model.PartitionRange{rng(0, 4), rng(4, 8)}, got)

	got, err = l.Committed(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewMemory()
	assert.ErrorIs(t, l.Commit(ctx, "docs", rng(0, 1)), context.Canceled)
	_, err := l.Committed(ctx, "docs")
	assert.ErrorIs(t, err, context.Canceled)
}
