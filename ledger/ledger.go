// Package ledger records which partition ranges of an index have been built.
//
// A sharded or incremental build consults the ledger to skip ranges that are
// already done and commits each range after its partitions are written.
// Committed ranges of one index never overlap. Memory keeps them in process,
// BlobLedger as versioned manifests in a blob store and the dynamodb
// subpackage as a conditional commit log.
package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/ivfbuild/model"
)

var (
	// ErrOverlap is returned by Commit when the range intersects a committed one.
	ErrOverlap = errors.New("partition range overlaps a committed range")

	// ErrConcurrentModification is returned when a commit kept losing races
	// against other writers.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// Ledger stores the committed partition ranges per index name.
type Ledger interface {
	// Commit records r as built for index.
	Commit(ctx context.Context, index string, r model.PartitionRange) error
	// Committed returns the committed ranges of index sorted by Start.
	Committed(ctx context.Context, index string) ([]model.PartitionRange, error)
}

// Covered reports whether the union of committed covers every id of r.
// committed must be sorted by Start and non-overlapping.
func Covered(committed []model.PartitionRange, r model.PartitionRange) bool {
	next := r.Start
	for _, c := range committed {
		if c.End <= next {
			continue
		}
		if c.Start > next {
			return false
		}
		next = c.End
		if next >= r.End {
			return true
		}
	}
	return next >= r.End
}

// CheckOverlap returns ErrOverlap if r intersects any of committed.
func CheckOverlap(committed []model.PartitionRange, r model.PartitionRange) error {
	for _, c := range committed {
		if c.Overlaps(r) {
			return fmt.Errorf("%w: %s intersects %s", ErrOverlap, r, c)
		}
	}
	return nil
}

// SortRanges orders ranges by Start.
func SortRanges(ranges []model.PartitionRange) {
	slices.SortFunc(ranges, func(a, b model.PartitionRange) int {
		return cmp.Compare(a.Start, b.Start)
	})
}

// Memory is an in-process Ledger.
type Memory struct {
	mu     sync.Mutex
	ranges map[string][]model.PartitionRange
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{ranges: make(map[string][]model.PartitionRange)}
}

// Commit implements Ledger.
func (m *Memory) Commit(ctx context.Context, index string, r model.PartitionRange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Len() == 0 {
		return fmt.Errorf("%w: %s is empty", model.ErrInvalidRange, r)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := CheckOverlap(m.ranges[index], r); err != nil {
		return err
	}
	rs := append(m.ranges[index], r)
	SortRanges(rs)
	m.ranges[index] = rs
	return nil
}

// Committed implements Ledger.
func (m *Memory) Committed(ctx context.Context, index string) ([]model.PartitionRange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ranges[index]), nil
}
