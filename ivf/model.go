package ivf

import (
	"fmt"
	"math"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/distance"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/quantization"
)

// Model assigns rows to partitions and encodes them. It is immutable and safe
// for concurrent use.
type Model struct {
	centroids   []float32
	dim         int
	k           int
	metric      distance.Metric
	dist        distance.Func
	column      string
	quantizer   quantization.Quantizer
	partRange   model.PartitionRange
	precomputed map[uint64]uint32
	schema      *batch.Schema
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithPartitionRange restricts output to partitions in r. Rows assigned
// elsewhere are dropped.
func WithPartitionRange(r model.PartitionRange) ModelOption {
	return func(m *Model) {
		m.partRange = r
	}
}

// WithPrecomputedPartitions sets row id to partition id overrides. Overrides
// take priority over geometric assignment. The map must not be modified
// afterwards.
func WithPrecomputedPartitions(p map[uint64]uint32) ModelOption {
	return func(m *Model) {
		m.precomputed = p
	}
}

// NewModel creates a model over the IVF centroids that reads vectors from
// column and encodes them with q.
func NewModel(ivf *IVF, metric distance.Metric, column string, q quantization.Quantizer, opts ...ModelOption) (*Model, error) {
	dist, err := distance.Provider(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if q == nil {
		return nil, fmt.Errorf("%w: quantizer is required", ErrInvalidModel)
	}
	if q.Dimension() != ivf.Dimension() {
		return nil, fmt.Errorf("%w: quantizer dimension %d does not match centroid dimension %d", ErrInvalidModel, q.Dimension(), ivf.Dimension())
	}

	schema, err := batch.PartitionedSchema(q.NumSubVectors())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}

	m := &Model{
		centroids: ivf.Centroids(),
		dim:       ivf.Dimension(),
		k:         ivf.NumPartitions(),
		metric:    metric,
		dist:      dist,
		column:    column,
		quantizer: q,
		partRange: model.FullRange(ivf.NumPartitions()),
		schema:    schema,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.partRange.Validate(m.k); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	return m, nil
}

// NumPartitions returns the number of centroids.
func (m *Model) NumPartitions() int { return m.k }

// PartitionRange returns the range the model emits.
func (m *Model) PartitionRange() model.PartitionRange { return m.partRange }

// Column returns the vector column name.
func (m *Model) Column() string { return m.column }

// Metric returns the distance metric.
func (m *Model) Metric() distance.Metric { return m.metric }

// CodeWidth returns the PQ code width in bytes.
func (m *Model) CodeWidth() int { return m.quantizer.NumSubVectors() }

// OutputSchema returns the schema of transformed batches.
func (m *Model) OutputSchema() *batch.Schema { return m.schema }

// NearestPartition returns the index of the nearest centroid. Ties resolve to
// the lowest index. It returns -1 when no distance is comparable (NaN input).
func (m *Model) NearestPartition(vec []float32) int {
	best := -1
	minDist := float32(math.Inf(1))
	for j := 0; j < m.k; j++ {
		d := m.dist(vec, m.centroids[j*m.dim:(j+1)*m.dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}
	return best
}

// AssignPartition returns the partition of one row: the precomputed override
// if present, otherwise the nearest centroid.
func (m *Model) AssignPartition(rowID uint64, vec []float32) (uint32, error) {
	if p, ok := m.precomputed[rowID]; ok {
		if int(p) >= m.k {
			return 0, fmt.Errorf("%w: precomputed partition %d for row %d exceeds %d partitions", ErrTransform, p, rowID, m.k)
		}
		return p, nil
	}
	if len(vec) != m.dim {
		return 0, fmt.Errorf("%w: row %d has dimension %d, want %d", ErrTransform, rowID, len(vec), m.dim)
	}
	best := m.NearestPartition(vec)
	if best < 0 {
		return 0, fmt.Errorf("%w: row %d has non-finite distance to every centroid", ErrTransform, rowID)
	}
	return uint32(best), nil
}

// ValidateSchema checks that s carries the row id column and a vector column
// of the model dimension.
func (m *Model) ValidateSchema(s *batch.Schema) error {
	if _, err := s.Require(batch.RowIDColumn, batch.TypeUint64, 0); err != nil {
		return err
	}
	_, err := s.Require(m.column, batch.TypeFloat32Vector, m.dim)
	return err
}

// TransformBatch assigns and encodes every row of b. The output keeps the row
// id, drops the vector and adds the partition id and PQ code columns. Rows
// whose partition falls outside the model range are dropped. Either every row
// succeeds or the whole batch fails.
func (m *Model) TransformBatch(b *batch.Batch) (*batch.Batch, error) {
	rowIDs, err := b.Uint64(batch.RowIDColumn)
	if err != nil {
		return nil, err
	}
	vecs, err := b.Vectors(m.column)
	if err != nil {
		return nil, err
	}
	if vecs.Dim != m.dim {
		return nil, &batch.SchemaError{Column: m.column, Reason: fmt.Sprintf("has width %d, want %d", vecs.Dim, m.dim)}
	}

	n := b.NumRows()
	keep := make([]int, 0, n)
	parts := make(batch.Uint32Column, 0, n)
	for i := 0; i < n; i++ {
		p, err := m.AssignPartition(rowIDs[i], vecs.Row(i))
		if err != nil {
			return nil, err
		}
		if !m.partRange.Contains(p) {
			continue
		}
		keep = append(keep, i)
		parts = append(parts, p)
	}

	w := m.quantizer.NumSubVectors()
	codes := make([]byte, len(keep)*w)
	ids := make(batch.Uint64Column, len(keep))

	var residual []float32
	if m.quantizer.UseResidual() {
		residual = make([]float32, m.dim)
	}
	for j, i := range keep {
		ids[j] = rowIDs[i]
		vec := vecs.Row(i)
		if residual != nil {
			c := m.centroids[int(parts[j])*m.dim : (int(parts[j])+1)*m.dim]
			for d := range residual {
				residual[d] = vec[d] - c[d]
			}
			vec = residual
		}
		if err := m.quantizer.EncodeInto(codes[j*w:(j+1)*w], vec); err != nil {
			return nil, fmt.Errorf("%w: encode row %d: %w", ErrTransform, ids[j], err)
		}
	}

	return batch.New(m.schema, ids, parts, batch.NewFixedSizeBinaryColumn(w, codes))
}
