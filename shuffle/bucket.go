package shuffle

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/ivfbuild/model"
)

// BucketPolicy returns how many bucket files to use for numPartitions
// partitions at the given fan-out factor.
type BucketPolicy func(numPartitions, fanOutFactor int) int

// CeilDivPolicy groups fanOutFactor consecutive partitions per bucket:
// ceil(numPartitions / fanOutFactor) buckets.
func CeilDivPolicy(numPartitions, fanOutFactor int) int {
	return (numPartitions + fanOutFactor - 1) / fanOutFactor
}

// FixedPolicy always uses n buckets regardless of the fan-out factor.
func FixedPolicy(n int) BucketPolicy {
	return func(int, int) int { return n }
}

// BucketFile is one intermediate file of the bucket phase. It holds the rows
// of a contiguous range of partition ids, unsorted.
type BucketFile struct {
	Name  string
	Index int
	Range model.PartitionRange
	Rows  int64
	// Partitions is the set of partition ids present in the file.
	Partitions *roaring.Bitmap
}

func (b BucketFile) String() string {
	return fmt.Sprintf("bucket %d %s (%d rows, %d partitions)", b.Index, b.Range, b.Rows, b.Partitions.GetCardinality())
}

// bucketLayout maps partition ids of a range onto bucket indices.
type bucketLayout struct {
	r                   model.PartitionRange
	numBuckets          int
	partitionsPerBucket int
}

func newBucketLayout(r model.PartitionRange, policy BucketPolicy, fanOutFactor, maxBuckets int) bucketLayout {
	p := r.Len()
	n := policy(p, fanOutFactor)
	if maxBuckets > 0 {
		n = min(n, maxBuckets)
	}
	n = max(1, min(n, p))

	per := (p + n - 1) / n
	// Recompute so the last bucket is never empty.
	n = (p + per - 1) / per
	return bucketLayout{r: r, numBuckets: n, partitionsPerBucket: per}
}

func (l bucketLayout) bucketOf(id uint32) int {
	return int(id-l.r.Start) / l.partitionsPerBucket
}

func (l bucketLayout) rangeOf(bucket int) model.PartitionRange {
	start := l.r.Start + uint32(bucket*l.partitionsPerBucket)
	end := min(l.r.End, start+uint32(l.partitionsPerBucket))
	return model.PartitionRange{Start: start, End: end}
}
