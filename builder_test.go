package ivfbuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/blobstore"
	"github.com/hupe1980/ivfbuild/distance"
	"github.com/hupe1980/ivfbuild/index"
	"github.com/hupe1980/ivfbuild/internal/resource"
	"github.com/hupe1980/ivfbuild/internal/spill"
	"github.com/hupe1980/ivfbuild/ivf"
	"github.com/hupe1980/ivfbuild/ledger"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/quantization"
	"github.com/hupe1980/ivfbuild/shuffle"
	"github.com/hupe1980/ivfbuild/testutil"
)

const (
	testColumn     = "vector"
	testDim        = 16
	testPartitions = 4
	testSubVectors = 8
	testRows       = 10000
)

type fixture struct {
	centroids []float32
	vectors   []float32
	pq        *quantization.ProductQuantizer
	// expected maps partition id to sorted row ids.
	expected map[uint32][]uint64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	rng := testutil.NewRNG(42)

	centroids := make([]float32, testPartitions*testDim)
	for i := range testPartitions {
		for j := range testDim {
			centroids[i*testDim+j] = float32(i * 10)
		}
	}
	vectors := rng.ClusteredVectors(testRows, centroids, testDim, 1)

	pq, err := quantization.NewProductQuantizer(testDim, testSubVectors, 256, rng.Codebooks(testDim, testSubVectors, 256))
	require.NoError(t, err)

	expected := make(map[uint32][]uint64)
	for i := range testRows {
		vec := vectors[i*testDim : (i+1)*testDim]
		p := testutil.BrutePartition(vec, centroids, testDim, distance.SquaredL2)
		expected[uint32(p)] = append(expected[uint32(p)], uint64(i))
	}
	return fixture{centroids: centroids, vectors: vectors, pq: pq, expected: expected}
}

func (f fixture) stream() batch.Stream {
	return batch.FromBatches(testutil.VectorSchema(testColumn, testDim),
		testutil.VectorBatches(testColumn, f.vectors, testDim, 512)...)
}

func (f fixture) ivf(t *testing.T) *ivf.IVF {
	t.Helper()
	m, err := ivf.New(slices.Clone(f.centroids), testDim)
	require.NoError(t, err)
	return m
}

type output struct {
	store *blobstore.MemoryStore
	w     *index.Writer
	state *ivf.IVF
}

func newOutput(t *testing.T, f fixture, r model.PartitionRange) output {
	t.Helper()
	store := blobstore.NewMemoryStore()
	blob, err := store.Create(t.Context(), "vectors.ivf")
	require.NoError(t, err)
	schema, err := batch.PartitionedSchema(testSubVectors)
	require.NoError(t, err)
	w, err := index.NewWriter(blob, schema, index.WithPartitionRange(r))
	require.NoError(t, err)
	return output{store: store, w: w, state: f.ivf(t)}
}

func (o output) finish(t *testing.T) *index.Reader {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, o.w.Finish(ctx, o.state))
	blob, err := o.store.Open(ctx, "vectors.ivf")
	require.NoError(t, err)
	r, err := index.Open(ctx, blob)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestBuildPartitions(t *testing.T) {
	f := newFixture(t)

	for _, strategy := range []Strategy{StrategyDisk, StrategySort} {
		t.Run(strategy.String(), func(t *testing.T) {
			ctx := t.Context()
			out := newOutput(t, f, model.FullRange(testPartitions))
			metrics := &BasicMetricsObserver{}

			err := BuildPartitions(ctx, out.w, f.stream(), testColumn, out.state, f.pq,
				distance.MetricL2, model.FullRange(testPartitions), nil,
				WithDiskShuffle(1000, 2),
				WithStrategy(strategy),
				WithTempDir(t.TempDir()),
				WithParallelism(4),
				WithMetricsObserver(metrics),
			)
			require.NoError(t, err)
			assert.Equal(t, uint64(testRows), out.w.Offset())

			r := out.finish(t)
			require.Equal(t, testPartitions, r.NumPartitions())

			var next uint64
			for id := range uint32(testPartitions) {
				entry := r.Directory()[id]
				assert.Equal(t, next, entry.Offset, "partition %d offset", id)
				next += uint64(entry.Length)

				b, err := r.ReadPartition(ctx, id)
				require.NoError(t, err)
				require.Positive(t, b.NumRows())

				ids, err := b.Uint64(batch.RowIDColumn)
				require.NoError(t, err)
				assert.Equal(t, f.expected[id], slices.Sorted(slices.Values(ids)), "partition %d rows", id)

				parts, err := b.Uint32(batch.PartIDColumn)
				require.NoError(t, err)
				for _, p := range parts {
					require.Equal(t, id, p)
				}

				codes, err := b.FixedSizeBinary(batch.PQCodeColumn)
				require.NoError(t, err)
				require.Equal(t, testSubVectors, codes.Size)
				row := ids[0]
				want, err := f.pq.Encode(f.vectors[int(row)*testDim : int(row+1)*testDim])
				require.NoError(t, err)
				assert.Equal(t, want, codes.Row(0))
			}

			stats := metrics.GetStats()
			assert.Equal(t, int64(1), stats.BuildCount)
			assert.Zero(t, stats.BuildErrors)
			assert.Equal(t, int64(testPartitions), stats.PartitionsBuilt)
			assert.Equal(t, int64(testRows), stats.Phases[PhaseWrite].Rows)
			if strategy == StrategyDisk {
				assert.Contains(t, stats.Phases, shuffle.PhaseStage)
				assert.Contains(t, stats.Phases, shuffle.PhaseBucket)
			} else {
				assert.Contains(t, stats.Phases, shuffle.PhaseSort)
			}
		})
	}
}

func TestBuildPartitionsSubRange(t *testing.T) {
	f := newFixture(t)
	r := model.PartitionRange{Start: 1, End: 3}
	out := newOutput(t, f, r)

	err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
		distance.MetricL2, r, nil, WithTempDir(t.TempDir()))
	require.NoError(t, err)

	want := len(f.expected[1]) + len(f.expected[2])
	assert.Equal(t, uint64(want), out.w.Offset())

	reader := out.finish(t)
	for id := r.Start; id < r.End; id++ {
		b, err := reader.ReadPartition(t.Context(), id)
		require.NoError(t, err)
		ids, _ := b.Uint64(batch.RowIDColumn)
		assert.Equal(t, f.expected[id], slices.Sorted(slices.Values(ids)))
	}
}

func TestBuildPartitionsPrecomputed(t *testing.T) {
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	// Move the first rows of partition 0 into partition 3.
	moved := f.expected[0][:10]
	precomputed := make(map[uint64]uint32, len(moved))
	for _, id := range moved {
		precomputed[id] = 3
	}

	err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
		distance.MetricL2, model.FullRange(testPartitions), precomputed, WithStrategy(StrategySort))
	require.NoError(t, err)

	_, length := out.state.Partition(0)
	assert.Equal(t, len(f.expected[0])-len(moved), int(length))
	_, length = out.state.Partition(3)
	assert.Equal(t, len(f.expected[3])+len(moved), int(length))
}

func TestBuildPartitionsSchemaError(t *testing.T) {
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	tests := []struct {
		name   string
		schema *batch.Schema
	}{
		{
			name: "missing vector column",
			schema: batch.MustSchema(
				batch.Field{Name: batch.RowIDColumn, Type: batch.TypeUint64},
				batch.Field{Name: "embedding", Type: batch.TypeFloat32Vector, Width: testDim},
			),
		},
		{
			name: "missing row id",
			schema: batch.MustSchema(
				batch.Field{Name: testColumn, Type: batch.TypeFloat32Vector, Width: testDim},
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := batch.FromSeq(tt.schema, func(context.Context) iter.Seq2[*batch.Batch, error] {
				t.Error("stream must not be read")
				return func(func(*batch.Batch, error) bool) {}
			})
			dir := t.TempDir()
			err := BuildPartitions(t.Context(), out.w, data, testColumn, out.state, f.pq,
				distance.MetricL2, model.FullRange(testPartitions), nil, WithTempDir(dir))
			require.ErrorIs(t, err, ErrSchema)

			var se *batch.SchemaError
			assert.ErrorAs(t, err, &se)
			assert.Zero(t, out.w.Offset())
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestBuildPartitionsTransformError(t *testing.T) {
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	precomputed := map[uint64]uint32{7: testPartitions + 1}
	err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
		distance.MetricL2, model.FullRange(testPartitions), precomputed, WithTempDir(t.TempDir()))
	require.ErrorIs(t, err, ErrTransform)

	var te *ivf.TaskError
	assert.ErrorAs(t, err, &te)
}

func TestBuildPartitionsMemoryLimit(t *testing.T) {
	f := newFixture(t)

	t.Run("sort fails", func(t *testing.T) {
		out := newOutput(t, f, model.FullRange(testPartitions))
		err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
			distance.MetricL2, model.FullRange(testPartitions), nil,
			WithStrategy(StrategySort), WithMemoryLimit(4096))
		require.ErrorIs(t, err, ErrResource)
		assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
		assert.Zero(t, out.w.Offset())
	})

	t.Run("disk succeeds", func(t *testing.T) {
		out := newOutput(t, f, model.FullRange(testPartitions))
		err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
			distance.MetricL2, model.FullRange(testPartitions), nil,
			WithStrategy(StrategyDisk), WithMemoryLimit(4096), WithTempDir(t.TempDir()))
		require.NoError(t, err)
		assert.Equal(t, uint64(testRows), out.w.Offset())
	})
}

func TestBuildPartitionsMalformedEnv(t *testing.T) {
	t.Setenv(resource.MemoryLimitEnv, "bogus")
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
		distance.MetricL2, model.FullRange(testPartitions), nil,
		WithStrategy(StrategySort), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "failed to parse memory limit")
	assert.Contains(t, buf.String(), "build completed")
}

func TestBuildPartitionsSharedWriterLog(t *testing.T) {
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, nil))

	for _, r := range []model.PartitionRange{{Start: 0, End: 2}, {Start: 2, End: 4}} {
		err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
			distance.MetricL2, r, nil, WithStrategy(StrategySort), WithLogger(logger))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(testRows), out.w.Offset())

	var completed []string
	for line := range strings.Lines(buf.String()) {
		if strings.Contains(line, "build completed") {
			completed = append(completed, line)
		}
	}
	require.Len(t, completed, 2)
	// Each build reports only the rows it wrote.
	assert.Contains(t, completed[0], fmt.Sprintf(" rows=%d ", len(f.expected[0])+len(f.expected[1])))
	assert.Contains(t, completed[1], fmt.Sprintf(" rows=%d ", len(f.expected[2])+len(f.expected[3])))

	r := out.finish(t)
	assert.Equal(t, testPartitions, r.NumPartitions())
}

func TestBuildPartitionsLedger(t *testing.T) {
	f := newFixture(t)
	l := ledger.NewMemory()
	ctx := t.Context()

	build := func(r model.PartitionRange) error {
		out := newOutput(t, f, r)
		return BuildPartitions(ctx, out.w, f.stream(), testColumn, out.state, f.pq,
			distance.MetricL2, r, nil, WithLedger(l, "docs"), WithTempDir(t.TempDir()))
	}

	first := model.PartitionRange{Start: 0, End: 2}
	require.NoError(t, build(first))

	committed, err := l.Committed(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []model.PartitionRange{first}, committed)

	err = build(model.PartitionRange{Start: 0, End: 1})
	assert.ErrorIs(t, err, ErrAlreadyCommitted)

	err = build(model.PartitionRange{Start: 1, End: 3})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ledger.ErrOverlap)

	require.NoError(t, build(model.PartitionRange{Start: 2, End: 4}))
	committed, err = l.Committed(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, ledger.Covered(committed, model.FullRange(testPartitions)))
}

func TestBuildPartitionsCanceled(t *testing.T) {
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := BuildPartitions(ctx, out.w, f.stream(), testColumn, out.state, f.pq,
		distance.MetricL2, model.FullRange(testPartitions), nil, WithTempDir(t.TempDir()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildPartitionsInvalidArguments(t *testing.T) {
	f := newFixture(t)
	out := newOutput(t, f, model.FullRange(testPartitions))

	tests := []struct {
		name string
		r    model.PartitionRange
		opts []Option
	}{
		{name: "range past centroids", r: model.PartitionRange{Start: 2, End: 9}},
		{name: "empty range", r: model.PartitionRange{Start: 2, End: 2}},
		{name: "zero chunk size", r: model.FullRange(testPartitions), opts: []Option{func(o *Options) { o.ChunkSize = 0 }}},
		{name: "unknown strategy", r: model.FullRange(testPartitions), opts: []Option{WithStrategy(Strategy(9))}},
		{name: "ledger without name", r: model.FullRange(testPartitions), opts: []Option{WithLedger(ledger.NewMemory(), "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BuildPartitions(t.Context(), out.w, f.stream(), testColumn, out.state, f.pq,
				distance.MetricL2, tt.r, nil, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestShuffleDataset(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	ds, err := ShuffleDataset(ctx, f.stream(), testColumn, f.ivf(t), f.pq,
		distance.MetricL2, model.FullRange(testPartitions), nil, WithTempDir(t.TempDir()))
	require.NoError(t, err)
	defer func() { require.NoError(t, ds.Close()) }()

	got, err := testutil.Drain(ctx, ds.Partitions(),
		func(p shuffle.Partition) uint32 { return p.ID },
		func(p shuffle.Partition) iter.Seq2[*batch.Batch, error] { return p.Batches })
	require.NoError(t, err)
	require.Len(t, got, testPartitions)
	for i, p := range got {
		assert.Equal(t, uint32(i), p.ID)
		assert.Equal(t, f.expected[p.ID], slices.Sorted(slices.Values(p.Rows)))
	}

	// Close after a full iteration is a no-op.
	require.NoError(t, ds.Close())
}

func TestTranslateError(t *testing.T) {
	schemaErr := &batch.SchemaError{Column: "v", Reason: "missing"}
	taskErr := &ivf.TaskError{Batch: 1}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "schema", err: schemaErr, want: ErrSchema},
		{name: "transform", err: fmt.Errorf("batch: %w", ivf.ErrTransform), want: ErrTransform},
		{name: "task", err: taskErr, want: ErrTransform},
		{name: "memory", err: fmt.Errorf("sort: %w", resource.ErrMemoryLimitExceeded), want: ErrResource},
		{name: "spill", err: spill.ErrCorrupt, want: ErrResource},
		{name: "index", err: index.ErrCorrupt, want: ErrResource},
		{name: "model", err: ivf.ErrInvalidModel, want: ErrInvalidArgument},
		{name: "range", err: model.ErrInvalidRange, want: ErrInvalidArgument},
		{name: "schema before transform", err: errors.Join(ivf.ErrTransform, schemaErr), want: ErrSchema},
		{name: "transform before resource", err: errors.Join(resource.ErrMemoryLimitExceeded, ivf.ErrTransform), want: ErrTransform},
		{name: "canceled", err: context.Canceled, want: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	// Cancellation is returned unchanged even when wrapped in a phase failure.
	err := fmt.Errorf("stage: %w", context.Canceled)
	assert.Same(t, err, translateError(err))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("sort")
	require.NoError(t, err)
	assert.Equal(t, StrategySort, s)

	s, err = ParseStrategy("DISK")
	require.NoError(t, err)
	assert.Equal(t, StrategyDisk, s)

	_, err = ParseStrategy("hash")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
