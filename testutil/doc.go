// Package testutil provides testing utilities for ivfbuild.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded RNG, generators for vector and partitioned batch
// streams, and brute-force reference assignment.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vec := make([]float32, 128)
//	rng.FillUniform(vec)      // uniform [0, 1)
//
// # Input Streams
//
//	stream := rng.VectorStream("vector", 10000, 32, 512)
//	parts := rng.PartitionedStream(10000, 16, 8, 1000)
//
// # Ground Truth
//
//	p := testutil.BrutePartition(vec, centroids, dim, distance.SquaredL2)
package testutil
