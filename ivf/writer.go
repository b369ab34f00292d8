package ivf

import (
	"context"
	"fmt"
	"iter"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/shuffle"
)

// IndexWriter is the sink for partition batches. Batches arrive in ascending
// partition id order.
type IndexWriter interface {
	// WriteBatch persists b. b holds rows of a single partition.
	WriteBatch(ctx context.Context, b *batch.Batch) error
	// Offset returns the number of rows written so far.
	Offset() uint64
}

// WriteIndexPartitions drains parts into w and records the directory entry of
// every partition in r, empty ones included, in ivf.
//
// parts must yield strictly ascending ids inside r, and every row of a
// partition must carry that partition's id.
func WriteIndexPartitions(ctx context.Context, w IndexWriter, ivf *IVF, parts iter.Seq2[shuffle.Partition, error], r model.PartitionRange) error {
	if err := r.Validate(ivf.NumPartitions()); err != nil {
		return err
	}

	next := r.Start
	fill := func(end uint32) {
		for ; next < end; next++ {
			ivf.SetPartition(next, w.Offset(), 0)
		}
	}

	for p, err := range parts {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.ID < next || !r.Contains(p.ID) {
			return fmt.Errorf("%w: partition %d after %d in %s", ErrPartitionOrder, p.ID, int64(next)-1, r)
		}
		fill(p.ID)

		offset := w.Offset()
		var rows uint64
		for b, err := range p.Batches {
			if err != nil {
				return err
			}
			if err := checkPartition(b, p.ID); err != nil {
				return err
			}
			if err := w.WriteBatch(ctx, b); err != nil {
				return err
			}
			rows += uint64(b.NumRows())
		}
		if rows > uint64(^uint32(0)) {
			return fmt.Errorf("partition %d has %d rows, more than a directory entry holds", p.ID, rows)
		}
		ivf.SetPartition(p.ID, offset, uint32(rows))
		next = p.ID + 1
	}
	fill(r.End)
	return nil
}

func checkPartition(b *batch.Batch, id uint32) error {
	parts, err := b.Uint32(batch.PartIDColumn)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if p != id {
			return fmt.Errorf("%w: row of partition %d in partition %d", ErrPartitionOrder, p, id)
		}
	}
	return nil
}
