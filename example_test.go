package ivfbuild_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hupe1980/ivfbuild"
	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/blobstore"
	"github.com/hupe1980/ivfbuild/distance"
	"github.com/hupe1980/ivfbuild/index"
	"github.com/hupe1980/ivfbuild/ivf"
	"github.com/hupe1980/ivfbuild/ledger"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/quantization"
)

const (
	exampleDim  = 4
	exampleK    = 4
	exampleRows = 100
)

// exampleInputs returns vectors sitting exactly on one of four centroids,
// assigned round-robin.
func exampleInputs() (batch.Stream, *ivf.IVF, *quantization.ProductQuantizer) {
	centroids := make([]float32, exampleK*exampleDim)
	for i := range centroids {
		centroids[i] = float32(i/exampleDim) * 10
	}
	state, err := ivf.New(centroids, exampleDim)
	if err != nil {
		log.Fatal(err)
	}

	codebooks := make([]float32, 2*4*(exampleDim/2))
	for i := range codebooks {
		codebooks[i] = float32(i)
	}
	pq, err := quantization.NewProductQuantizer(exampleDim, 2, 4, codebooks)
	if err != nil {
		log.Fatal(err)
	}

	schema := batch.MustSchema(
		batch.Field{Name: batch.RowIDColumn, Type: batch.TypeUint64},
		batch.Field{Name: "vector", Type: batch.TypeFloat32Vector, Width: exampleDim},
	)
	ids := make(batch.Uint64Column, exampleRows)
	values := make([]float32, exampleRows*exampleDim)
	for i := range exampleRows {
		ids[i] = uint64(i)
		copy(values[i*exampleDim:], centroids[(i%exampleK)*exampleDim:(i%exampleK+1)*exampleDim])
	}
	b, err := batch.New(schema, ids, batch.NewVectorColumn(exampleDim, values))
	if err != nil {
		log.Fatal(err)
	}
	return batch.FromBatches(schema, b), state, pq
}

func newIndexWriter(ctx context.Context, store blobstore.BlobStore, name string) *index.Writer {
	blob, err := store.Create(ctx, name)
	if err != nil {
		log.Fatal(err)
	}
	schema, err := batch.PartitionedSchema(2)
	if err != nil {
		log.Fatal(err)
	}
	w, err := index.NewWriter(blob, schema)
	if err != nil {
		log.Fatal(err)
	}
	return w
}

// Example_buildPartitions builds all partitions of a small index with the
// disk shuffle and reads the directory back.
func Example_buildPartitions() {
	ctx := context.Background()
	data, state, pq := exampleInputs()

	store := blobstore.NewMemoryStore()
	w := newIndexWriter(ctx, store, "example.ivf")

	err := ivfbuild.BuildPartitions(ctx, w, data, "vector", state, pq,
		distance.MetricL2, model.FullRange(exampleK), nil,
		ivfbuild.WithStrategy(ivfbuild.StrategyDisk),
	)
	if err != nil {
		log.Fatal(err)
	}
	if err := w.Finish(ctx, state); err != nil {
		log.Fatal(err)
	}

	blob, err := store.Open(ctx, "example.ivf")
	if err != nil {
		log.Fatal(err)
	}
	r, err := index.Open(ctx, blob)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	for id, e := range r.Directory() {
		fmt.Printf("partition %d: offset=%d length=%d\n", id, e.Offset, e.Length)
	}
	// Output:
	// partition 0: offset=0 length=25
	// partition 1: offset=25 length=25
	// partition 2: offset=50 length=25
	// partition 3: offset=75 length=25
}

// Example_ledger shows a sharded build that skips a range built earlier.
func Example_ledger() {
	ctx := context.Background()
	l := ledger.NewMemory()
	store := blobstore.NewMemoryStore()

	for i, r := range []model.PartitionRange{{Start: 0, End: 2}, {Start: 0, End: 2}, {Start: 2, End: 4}} {
		data, state, pq := exampleInputs()
		w := newIndexWriter(ctx, store, fmt.Sprintf("shard-%d.ivf", i))

		err := ivfbuild.BuildPartitions(ctx, w, data, "vector", state, pq,
			distance.MetricL2, r, nil,
			ivfbuild.WithStrategy(ivfbuild.StrategySort),
			ivfbuild.WithLedger(l, "example"),
		)
		switch {
		case errors.Is(err, ivfbuild.ErrAlreadyCommitted):
			fmt.Printf("%s skipped\n", r)
		case err != nil:
			log.Fatal(err)
		default:
			fmt.Printf("%s wrote %d rows\n", r, w.Offset())
		}
		_ = w.Abort(ctx)
	}
	// Output:
	// [0, 2) wrote 50 rows
	// [0, 2) skipped
	// [2, 4) wrote 50 rows
}
