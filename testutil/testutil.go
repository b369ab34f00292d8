package testutil

import (
	"context"
	"iter"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/distance"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// UniformVectors generates num random vectors with values in range [0, 1),
// flattened row-major.
func (r *RNG) UniformVectors(num, dim int) []float32 {
	data := make([]float32, num*dim)
	r.FillUniform(data)
	return data
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere),
// flattened row-major.
func (r *RNG) UnitVectors(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range num {
		vec := data[i*dim : (i+1)*dim]
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		inv := float32(1.0 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= inv
		}
	}
	return data
}

// ClusteredVectors generates num vectors around the given centroids, assigned
// round-robin, with Gaussian noise of the given spread.
func (r *RNG) ClusteredVectors(num int, centroids []float32, dim int, spread float32) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := len(centroids) / dim
	data := make([]float32, num*dim)
	for i := range num {
		c := centroids[(i%k)*dim : (i%k+1)*dim]
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return data
}

// Codebooks generates m codebooks of k codewords each for vectors of dim.
func (r *RNG) Codebooks(dim, m, k int) []float32 {
	return r.UniformVectors(m*k, dim/m)
}

// VectorSchema returns the input schema of a build over the named vector column.
func VectorSchema(column string, dim int) *batch.Schema {
	return batch.MustSchema(
		batch.Field{Name: batch.RowIDColumn, Type: batch.TypeUint64},
		batch.Field{Name: column, Type: batch.TypeFloat32Vector, Width: dim},
	)
}

// VectorBatches cuts vectors into batches of at most batchSize rows with row
// ids 0..n-1.
func VectorBatches(column string, vectors []float32, dim, batchSize int) []*batch.Batch {
	schema := VectorSchema(column, dim)
	n := len(vectors) / dim
	var out []*batch.Batch
	for start := 0; start < n; start += batchSize {
		end := min(n, start+batchSize)
		ids := make(batch.Uint64Column, end-start)
		for i := range ids {
			ids[i] = uint64(start + i)
		}
		b, err := batch.New(schema, ids, batch.NewVectorColumn(dim, vectors[start*dim:end*dim]))
		if err != nil {
			panic(err)
		}
		out = append(out, b)
	}
	return out
}

// VectorStream generates n uniform vectors and streams them in batches.
func (r *RNG) VectorStream(column string, n, dim, batchSize int) (batch.Stream, []float32) {
	vectors := r.UniformVectors(n, dim)
	return batch.FromBatches(VectorSchema(column, dim), VectorBatches(column, vectors, dim, batchSize)...), vectors
}

// PartitionedStream generates n rows with partition ids uniform in
// [0, numPartitions) and random codes of codeWidth bytes. The row id doubles
// as the first code byte so rows can be traced through a shuffle.
func (r *RNG) PartitionedStream(n, numPartitions, codeWidth, batchSize int) batch.Stream {
	schema, err := batch.PartitionedSchema(codeWidth)
	if err != nil {
		panic(err)
	}
	var batches []*batch.Batch
	for start := 0; start < n; start += batchSize {
		end := min(n, start+batchSize)
		rows := end - start
		ids := make(batch.Uint64Column, rows)
		parts := make(batch.Uint32Column, rows)
		codes := make([]byte, rows*codeWidth)
		for i := range rows {
			ids[i] = uint64(start + i)
			parts[i] = uint32(r.Intn(numPartitions))
			codes[i*codeWidth] = byte(ids[i])
			for j := 1; j < codeWidth; j++ {
				codes[i*codeWidth+j] = byte(r.Intn(256))
			}
		}
		b, err := batch.New(schema, ids, parts, batch.NewFixedSizeBinaryColumn(codeWidth, codes))
		if err != nil {
			panic(err)
		}
		batches = append(batches, b)
	}
	return batch.FromBatches(schema, batches...)
}

// BrutePartition returns the index of the centroid closest to vec under fn,
// lowest index on ties.
func BrutePartition(vec, centroids []float32, dim int, fn distance.Func) int {
	best, bestDist := -1, float32(math.Inf(1))
	for i := 0; i < len(centroids)/dim; i++ {
		if d := fn(vec, centroids[i*dim:(i+1)*dim]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// PartitionRows is a drained partition.
type PartitionRows struct {
	ID    uint32
	Rows  []uint64
	Codes [][]byte
}

// Drain collects a sequence of partitions, where each partition yields its
// batches through batches. It returns the first error.
func Drain[P any](ctx context.Context, seq iter.Seq2[P, error], id func(P) uint32, batches func(P) iter.Seq2[*batch.Batch, error]) ([]PartitionRows, error) {
	var out []PartitionRows
	for p, err := range seq {
		if err != nil {
			return out, err
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		pr := PartitionRows{ID: id(p)}
		for b, err := range batches(p) {
			if err != nil {
				return out, err
			}
			ids, err := b.Uint64(batch.RowIDColumn)
			if err != nil {
				return out, err
			}
			codes, err := b.FixedSizeBinary(batch.PQCodeColumn)
			if err != nil {
				return out, err
			}
			pr.Rows = append(pr.Rows, ids...)
			for i := range ids {
				pr.Codes = append(pr.Codes, append([]byte(nil), codes.Row(i)...))
			}
		}
		out = append(out, pr)
	}
	return out, nil
}
