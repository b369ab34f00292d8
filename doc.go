// Package ivfbuild builds the partitions of an IVF_PQ vector index over
// datasets too large to fit in memory.
//
// Given a stream of vector batches, trained centroids and a trained product
// quantizer, a build assigns every row to its nearest centroid, encodes it,
// regroups all rows by partition id and writes each partition contiguously
// through an ivf.IndexWriter.
//
// # Quick Start
//
//	model, _ := ivf.New(centroids, dim)
//	pq, _ := quantization.NewProductQuantizer(dim, 8, 256, codebooks)
//
//	w, _ := store.Create(ctx, "documents.ivf")
//	iw, _ := index.NewWriter(w, schema)
//
//	err := ivfbuild.BuildPartitions(ctx, iw, data, "vector", model, pq,
//	    distance.MetricL2, model.FullRange(k), nil,
//	    ivfbuild.WithStrategy(ivfbuild.StrategyDisk),
//	)
//	if err == nil {
//	    err = iw.Finish(ctx, model)
//	}
//
// # Shuffle Strategies
//
// StrategyDisk (default) stages the stream to a spill file, redistributes it
// into a bounded number of bucket files and merges one bucket at a time. Its
// memory use is bounded by the chunk size and the largest bucket.
//
// StrategySort sorts the whole stream in memory under the budget from
// WithMemoryLimit or the IVF_MEMORY_LIMIT environment variable and fails
// outright when the budget is exceeded.
//
// # Sharded Builds
//
// A build covers a half-open partition range. Rows assigned outside the range
// are dropped, so builds over disjoint ranges never duplicate a row. With
// WithLedger, ranges that are already committed are skipped and each
// successful build commits its range.
package ivfbuild
