package shuffle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/fs"
	"github.com/hupe1980/ivfbuild/internal/resource"
	"github.com/hupe1980/ivfbuild/internal/spill"
	"github.com/hupe1980/ivfbuild/model"
)

const (
	// DefaultChunkSize is the number of rows bucketed per working unit.
	DefaultChunkSize = 10000
	// DefaultFanOutFactor is the number of consecutive partitions per bucket.
	DefaultFanOutFactor = 2
	// DefaultMaxBuckets caps the number of bucket files open at once.
	DefaultMaxBuckets = 256
	// DefaultOutputBatchSize caps the rows of each batch yielded by the merge.
	DefaultOutputBatchSize = 8192

	unsortedFile = "unsorted.spill"
)

// Compression codecs for spill files.
const (
	CompressionNone = spill.CompressionNone
	CompressionLZ4  = spill.CompressionLZ4
	CompressionZSTD = spill.CompressionZSTD
)

var (
	// ErrPartitionOutOfRange is returned when a staged row carries a partition
	// id outside the shuffler range.
	ErrPartitionOutOfRange = errors.New("partition id out of range")
	// ErrInvalidArgument is returned for bad chunk sizes, fan-out factors or
	// call sequences.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DiskOptions configures a DiskShuffler.
type DiskOptions struct {
	// TempDir is the parent of the spill directory. Empty means os.TempDir().
	TempDir string
	// Compression is the spill block codec.
	Compression spill.Compression
	// ChunkSize and FanOutFactor are the bucket phase parameters used by Shuffle.
	ChunkSize    int
	FanOutFactor int
	// BucketPolicy derives the bucket count. Defaults to CeilDivPolicy.
	BucketPolicy BucketPolicy
	// MaxBuckets caps the bucket count. Zero means no cap.
	MaxBuckets int
	// OutputBatchSize caps the rows of yielded batches.
	OutputBatchSize int
	// Resources throttles spill IO. Memory is not drawn from it.
	Resources *resource.Controller
	Logger    *slog.Logger
	Observer  PhaseObserver
	// FS is the file system holding the spill directory.
	FS fs.FileSystem
}

// Stats describes the work done by a DiskShuffler.
type Stats struct {
	StagedRows    int64
	StagedBytes   int64
	Buckets       int
	MaxChunkRows  int
	MaxBucketRows int
}

// DiskShuffler is the three-phase external shuffle: stage the stream to one
// spill file, redistribute it into a bounded number of bucket files by
// partition range, then load one bucket at a time and emit its partitions in
// ascending order.
//
// A DiskShuffler owns its spill files and is not safe for concurrent use.
type DiskShuffler struct {
	opts      DiskOptions
	partRange model.PartitionRange

	dir    *spill.Dir
	schema *batch.Schema
	staged bool
	stats  Stats
}

// NewDiskShuffler creates a shuffler for rows whose partition ids lie in r.
func NewDiskShuffler(r model.PartitionRange, optFns ...func(*DiskOptions)) (*DiskShuffler, error) {
	if r.Len() == 0 {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidArgument, model.ErrInvalidRange, r)
	}
	opts := DiskOptions{
		Compression:     spill.CompressionLZ4,
		ChunkSize:       DefaultChunkSize,
		FanOutFactor:    DefaultFanOutFactor,
		BucketPolicy:    CeilDivPolicy,
		MaxBuckets:      DefaultMaxBuckets,
		OutputBatchSize: DefaultOutputBatchSize,
		Logger:          slog.New(slog.DiscardHandler),
		Observer:        noopObserver{},
		FS:              fs.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.OutputBatchSize < 1 {
		return nil, fmt.Errorf("%w: output batch size %d", ErrInvalidArgument, opts.OutputBatchSize)
	}
	if opts.BucketPolicy == nil {
		opts.BucketPolicy = CeilDivPolicy
	}
	return &DiskShuffler{opts: opts, partRange: r}, nil
}

// Stats returns the counters collected so far.
func (s *DiskShuffler) Stats() Stats { return s.stats }

// Dir returns the spill directory path, or "" before staging.
func (s *DiskShuffler) Dir() string {
	if s.dir == nil {
		return ""
	}
	return s.dir.Path()
}

// Close removes all spill files. It is safe to call more than once.
func (s *DiskShuffler) Close() error {
	if s.dir == nil {
		return nil
	}
	return s.dir.Cleanup()
}

// Shuffle runs the stage and bucket phases eagerly and returns the lazy merge.
// Spill files are removed when the merge iteration ends or on failure.
func (s *DiskShuffler) Shuffle(ctx context.Context, in batch.Stream) (iter.Seq2[Partition, error], error) {
	if err := s.WriteUnsortedStream(ctx, in); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	buckets, err := s.WritePartitionedShuffles(ctx, s.opts.ChunkSize, s.opts.FanOutFactor)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	merged, err := s.LoadPartitionedShuffles(ctx, buckets)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return func(yield func(Partition, error) bool) {
		defer func() {
			if err := s.Close(); err != nil {
				s.opts.Logger.WarnContext(ctx, "failed to remove spill directory", "dir", s.Dir(), "error", err)
			}
		}()
		for p, err := range merged {
			if !yield(p, err) || err != nil {
				return
			}
		}
	}, nil
}

// WriteUnsortedStream appends every batch of in, as is, to a single spill
// file. Only one batch is held in memory at a time.
func (s *DiskShuffler) WriteUnsortedStream(ctx context.Context, in batch.Stream) error {
	if s.dir != nil {
		return fmt.Errorf("%w: stream already staged", ErrInvalidArgument)
	}
	schema := in.Schema()
	if _, err := schema.Require(batch.PartIDColumn, batch.TypeUint32, 0); err != nil {
		return err
	}

	start := time.Now()
	rows, err := s.writeUnsorted(ctx, in)
	if err != nil {
		err = phaseError(PhaseStage, start, err)
		s.opts.Observer.ObservePhase(PhaseStage, time.Since(start), int(rows), err)
		return err
	}
	s.opts.Observer.ObservePhase(PhaseStage, time.Since(start), int(rows), nil)
	s.opts.Logger.InfoContext(ctx, "wrote raw stream",
		"rows", rows, "bytes", s.stats.StagedBytes, "elapsed", time.Since(start), "dir", s.dir.Path())
	return nil
}

func (s *DiskShuffler) writeUnsorted(ctx context.Context, in batch.Stream) (int64, error) {
	dir, err := spill.NewDir(s.opts.FS, s.opts.TempDir, "ivf-shuffle")
	if err != nil {
		return 0, err
	}
	s.dir = dir
	s.schema = in.Schema()

	w, err := dir.Create(ctx, unsortedFile, s.schema, s.opts.Compression, s.opts.Resources)
	if err != nil {
		return 0, err
	}
	for b, err := range in.All(ctx) {
		if err == nil {
			err = ctx.Err()
		}
		if err == nil {
			err = w.Write(b)
		}
		if err != nil {
			return w.Rows(), errors.Join(err, w.Close())
		}
	}
	if err := w.Close(); err != nil {
		return w.Rows(), err
	}

	s.staged = true
	s.stats.StagedRows = w.Rows()
	s.stats.StagedBytes = w.Bytes()
	return w.Rows(), nil
}

// WritePartitionedShuffles re-reads the staged file chunkSize rows at a time
// and redistributes the rows into bucket files, each covering a contiguous
// range of partition ids. Rows stay unsorted within a bucket. Only non-empty
// buckets are returned, in ascending range order.
func (s *DiskShuffler) WritePartitionedShuffles(ctx context.Context, chunkSize, fanOutFactor int) ([]BucketFile, error) {
	if chunkSize < 1 || fanOutFactor < 1 {
		return nil, fmt.Errorf("%w: chunk size %d and fan-out factor %d must be at least 1", ErrInvalidArgument, chunkSize, fanOutFactor)
	}
	if !s.staged {
		return nil, fmt.Errorf("%w: no staged stream", ErrInvalidArgument)
	}

	start := time.Now()
	layout := newBucketLayout(s.partRange, s.opts.BucketPolicy, fanOutFactor, s.opts.MaxBuckets)
	buckets, err := s.writeBuckets(ctx, layout, chunkSize)
	if err != nil {
		err = phaseError(PhaseBucket, start, err)
		s.opts.Observer.ObservePhase(PhaseBucket, time.Since(start), int(s.stats.StagedRows), err)
		return nil, err
	}
	s.stats.Buckets = len(buckets)
	s.opts.Observer.ObservePhase(PhaseBucket, time.Since(start), int(s.stats.StagedRows), nil)
	s.opts.Logger.InfoContext(ctx, "bucketed partition shuffles",
		"buckets", len(buckets), "partitions_per_bucket", layout.partitionsPerBucket,
		"chunk_size", chunkSize, "fan_out_factor", fanOutFactor, "elapsed", time.Since(start))
	return buckets, nil
}

func (s *DiskShuffler) writeBuckets(ctx context.Context, layout bucketLayout, chunkSize int) (buckets []BucketFile, err error) {
	r, err := s.dir.Open(ctx, unsortedFile, s.opts.Resources)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r != nil {
			err = errors.Join(err, r.Close())
		}
	}()

	writers := make([]*spill.Writer, layout.numBuckets)
	bitmaps := make([]*roaring.Bitmap, layout.numBuckets)
	defer func() {
		for _, w := range writers {
			if w != nil {
				err = errors.Join(err, w.Close())
			}
		}
	}()

	idx := make([][]int, layout.numBuckets)
	process := func(chunk *batch.Batch) error {
		s.stats.MaxChunkRows = max(s.stats.MaxChunkRows, chunk.NumRows())
		parts, err := chunk.Uint32(batch.PartIDColumn)
		if err != nil {
			return err
		}
		for i := range idx {
			idx[i] = idx[i][:0]
		}
		for i, p := range parts {
			if !layout.r.Contains(p) {
				return fmt.Errorf("%w: partition %d not in %s", ErrPartitionOutOfRange, p, layout.r)
			}
			bi := layout.bucketOf(p)
			idx[bi] = append(idx[bi], i)
			if bitmaps[bi] == nil {
				bitmaps[bi] = roaring.New()
			}
			bitmaps[bi].Add(p)
		}
		for bi, rows := range idx {
			if len(rows) == 0 {
				continue
			}
			if writers[bi] == nil {
				w, err := s.dir.Create(ctx, bucketName(bi), s.schema, s.opts.Compression, s.opts.Resources)
				if err != nil {
					return err
				}
				writers[bi] = w
			}
			if err := writers[bi].Write(chunk.Take(rows)); err != nil {
				return err
			}
		}
		return nil
	}

	var pending []*batch.Batch
	pendingRows := 0
	flush := func() error {
		if pendingRows == 0 {
			return nil
		}
		chunk, err := batch.Concat(s.schema, pending)
		if err != nil {
			return err
		}
		pending, pendingRows = pending[:0], 0
		return process(chunk)
	}

	for b, err := range r.All() {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for b.NumRows() > 0 {
			n := min(b.NumRows(), chunkSize-pendingRows)
			pending = append(pending, b.Slice(0, n))
			pendingRows += n
			b = b.Slice(n, b.NumRows())
			if pendingRows == chunkSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	for bi, w := range writers {
		if w == nil {
			continue
		}
		buckets = append(buckets, BucketFile{
			Name:       bucketName(bi),
			Index:      bi,
			Range:      layout.rangeOf(bi),
			Rows:       w.Rows(),
			Partitions: bitmaps[bi],
		})
	}

	// The staged file is consumed once the buckets are complete.
	cerr := r.Close()
	r = nil
	if cerr != nil {
		return nil, cerr
	}
	if err := s.dir.Remove(unsortedFile); err != nil {
		return nil, err
	}
	s.staged = false
	return buckets, nil
}

// LoadPartitionedShuffles returns the merge phase: one Partition for every id
// of the shuffler range in ascending order, empty ones included. Each bucket
// is loaded only when its first partition is reached and deleted once its last
// partition has been yielded.
func (s *DiskShuffler) LoadPartitionedShuffles(ctx context.Context, buckets []BucketFile) (iter.Seq2[Partition, error], error) {
	if s.dir == nil {
		return nil, fmt.Errorf("%w: no staged stream", ErrInvalidArgument)
	}
	if !slices.IsSortedFunc(buckets, func(a, b BucketFile) int { return int(a.Range.Start) - int(b.Range.Start) }) {
		return nil, fmt.Errorf("%w: buckets are not in partition order", ErrInvalidArgument)
	}
	for i, b := range buckets {
		if !s.partRange.Covers(b.Range) || (i > 0 && b.Range.Overlaps(buckets[i-1].Range)) {
			return nil, fmt.Errorf("%w: bucket %s does not fit %s", ErrInvalidArgument, b.Range, s.partRange)
		}
	}

	return func(yield func(Partition, error) bool) {
		start := time.Now()
		rows := 0
		var failed error
		defer func() {
			s.opts.Observer.ObservePhase(PhaseMerge, time.Since(start), rows, failed)
			if failed == nil {
				s.opts.Logger.InfoContext(ctx, "merged partitioned shuffles",
					"rows", rows, "buckets", len(buckets), "elapsed", time.Since(start))
			}
		}()

		next := s.partRange.Start
		emitEmpty := func(end uint32) bool {
			for ; next < end; next++ {
				if !yield(emptyPartition(next), nil) {
					return false
				}
			}
			return true
		}

		for _, bf := range buckets {
			if !emitEmpty(bf.Range.Start) {
				return
			}
			if err := ctx.Err(); err != nil {
				failed = phaseError(PhaseMerge, start, err)
				yield(Partition{}, failed)
				return
			}

			sorted, offsets, err := s.loadBucket(ctx, bf)
			if err != nil {
				failed = phaseError(PhaseMerge, start, err)
				yield(Partition{}, failed)
				return
			}
			s.stats.MaxBucketRows = max(s.stats.MaxBucketRows, sorted.NumRows())

			dense := 0
			for ; next < bf.Range.End; next++ {
				if !bf.Partitions.Contains(next) {
					if !yield(emptyPartition(next), nil) {
						return
					}
					continue
				}
				part := sorted.Slice(offsets[dense], offsets[dense+1])
				dense++
				rows += part.NumRows()
				p := Partition{ID: next, NumRows: part.NumRows(), Batches: chunked(part, s.opts.OutputBatchSize)}
				if !yield(p, nil) {
					return
				}
			}

			if err := s.dir.Remove(bf.Name); err != nil {
				failed = phaseError(PhaseMerge, start, err)
				yield(Partition{}, failed)
				return
			}
		}
		emitEmpty(s.partRange.End)
	}, nil
}

// loadBucket reads a bucket file and counting-sorts its rows by partition id.
// offsets[i] is where the i-th partition of bf.Partitions starts.
func (s *DiskShuffler) loadBucket(ctx context.Context, bf BucketFile) (*batch.Batch, []int, error) {
	r, err := s.dir.Open(ctx, bf.Name, s.opts.Resources)
	if err != nil {
		return nil, nil, err
	}
	var batches []*batch.Batch
	for b, err := range r.All() {
		if err != nil {
			return nil, nil, errors.Join(err, r.Close())
		}
		batches = append(batches, b)
	}
	if err := r.Close(); err != nil {
		return nil, nil, err
	}

	all, err := batch.Concat(s.schema, batches)
	if err != nil {
		return nil, nil, err
	}
	if int64(all.NumRows()) != bf.Rows {
		return nil, nil, fmt.Errorf("%w: bucket %d has %d rows, expected %d", spill.ErrCorrupt, bf.Index, all.NumRows(), bf.Rows)
	}
	parts, err := all.Uint32(batch.PartIDColumn)
	if err != nil {
		return nil, nil, err
	}

	card := int(bf.Partitions.GetCardinality())
	offsets := make([]int, card+1)
	ranks := make([]int, len(parts))
	for i, p := range parts {
		rank := int(bf.Partitions.Rank(p)) - 1
		if rank < 0 || !bf.Partitions.Contains(p) {
			return nil, nil, fmt.Errorf("%w: bucket %d holds unexpected partition %d", spill.ErrCorrupt, bf.Index, p)
		}
		ranks[i] = rank
		offsets[rank+1]++
	}
	for i := 1; i <= card; i++ {
		offsets[i] += offsets[i-1]
	}

	pos := slices.Clone(offsets[:card])
	perm := make([]int, len(parts))
	for i, rank := range ranks {
		perm[pos[rank]] = i
		pos[rank]++
	}
	return all.Take(perm), offsets, nil
}

func emptyPartition(id uint32) Partition {
	return Partition{ID: id, Batches: func(func(*batch.Batch, error) bool) {}}
}

func bucketName(i int) string {
	return fmt.Sprintf("bucket-%05d.spill", i)
}
