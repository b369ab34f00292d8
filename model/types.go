package model

import (
	"errors"
	"fmt"
)

// RowID identifies a source row. It is assigned upstream and never rewritten.
type RowID = uint64

// PartitionID is the index of an IVF partition (and its centroid).
type PartitionID = uint32

// ErrInvalidRange is returned when a partition range is empty or out of bounds.
var ErrInvalidRange = errors.New("invalid partition range")

// PartitionRange is the half-open interval [Start, End) of partition ids.
type PartitionRange struct {
	Start PartitionID
	End   PartitionID
}

// FullRange returns the range covering all n partitions.
func FullRange(n int) PartitionRange {
	return PartitionRange{Start: 0, End: PartitionID(n)}
}

// Len returns the number of partitions in the range.
func (r PartitionRange) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return int(r.End - r.Start)
}

// Contains reports whether id falls in [Start, End).
func (r PartitionRange) Contains(id PartitionID) bool {
	return id >= r.Start && id < r.End
}

// Overlaps reports whether r and o share at least one partition id.
func (r PartitionRange) Overlaps(o PartitionRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Covers reports whether every id of o is contained in r.
func (r PartitionRange) Covers(o PartitionRange) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Validate checks that the range is non-empty and lies within [0, numPartitions).
func (r PartitionRange) Validate(numPartitions int) error {
	if r.End <= r.Start {
		return fmt.Errorf("%w: %s is empty", ErrInvalidRange, r)
	}
	if int(r.End) > numPartitions {
		return fmt.Errorf("%w: %s exceeds %d partitions", ErrInvalidRange, r, numPartitions)
	}
	return nil
}

// String returns a string representation of the range.
func (r PartitionRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}
