package ivf

import (
	"fmt"

	"github.com/hupe1980/ivfbuild/model"
)

// IVF holds the trained centroids and the partition directory filled in as
// partitions are written.
type IVF struct {
	centroids []float32
	dim       int

	// Offsets[i] is the writer row position where partition i starts.
	Offsets []uint64
	// Lengths[i] is the number of rows in partition i.
	Lengths []uint32
}

// New creates IVF state over k = len(centroids)/dim centroids. The centroids
// are copied.
func New(centroids []float32, dim int) (*IVF, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidModel)
	}
	if len(centroids) == 0 || len(centroids)%dim != 0 {
		return nil, fmt.Errorf("%w: %d centroid values are not a multiple of dimension %d", ErrInvalidModel, len(centroids), dim)
	}
	k := len(centroids) / dim
	return &IVF{
		centroids: append([]float32(nil), centroids...),
		dim:       dim,
		Offsets:   make([]uint64, k),
		Lengths:   make([]uint32, k),
	}, nil
}

// Dimension returns the vector dimension.
func (ivf *IVF) Dimension() int { return ivf.dim }

// NumPartitions returns the number of centroids.
func (ivf *IVF) NumPartitions() int { return len(ivf.centroids) / ivf.dim }

// Centroids returns the flattened centroids. The slice must not be modified.
func (ivf *IVF) Centroids() []float32 { return ivf.centroids }

// Centroid returns centroid i. The slice must not be modified.
func (ivf *IVF) Centroid(i int) []float32 {
	return ivf.centroids[i*ivf.dim : (i+1)*ivf.dim : (i+1)*ivf.dim]
}

// SetPartition records the directory entry of partition id.
func (ivf *IVF) SetPartition(id model.PartitionID, offset uint64, length uint32) {
	ivf.Offsets[id] = offset
	ivf.Lengths[id] = length
}

// Partition returns the directory entry of partition id.
func (ivf *IVF) Partition(id model.PartitionID) (offset uint64, length uint32) {
	return ivf.Offsets[id], ivf.Lengths[id]
}

// NumRows returns the total number of rows recorded in the directory.
func (ivf *IVF) NumRows() uint64 {
	var n uint64
	for _, l := range ivf.Lengths {
		n += uint64(l)
	}
	return n
}

// NextOffset returns the row position just past the last recorded partition.
func (ivf *IVF) NextOffset() uint64 {
	var next uint64
	for i, l := range ivf.Lengths {
		next = max(next, ivf.Offsets[i]+uint64(l))
	}
	return next
}
