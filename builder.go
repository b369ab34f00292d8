package ivfbuild

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/distance"
	"github.com/hupe1980/ivfbuild/internal/exec"
	"github.com/hupe1980/ivfbuild/internal/resource"
	"github.com/hupe1980/ivfbuild/ivf"
	"github.com/hupe1980/ivfbuild/ledger"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/quantization"
	"github.com/hupe1980/ivfbuild/shuffle"
)

// PhaseWrite is the phase name reported for draining partitions into the
// index writer. The shuffle phases use the shuffle.Phase* names.
const PhaseWrite = "write"

// BuildPartitions assigns every row of data to a partition of state in
// partRange, encodes it with q and writes the rows grouped by partition
// through w. The directory entry of every partition in the range is recorded
// in state.
//
// The row id column and column must exist in data.Schema(); otherwise
// ErrSchema is returned before any batch is read. precomputed maps row ids to
// partition ids that override geometric assignment; it may be nil.
//
// BuildPartitions does not finish w. A cancelled or failed build leaves w in
// an unspecified state and the range must be rebuilt.
func BuildPartitions(
	ctx context.Context,
	w ivf.IndexWriter,
	data batch.Stream,
	column string,
	state *ivf.IVF,
	q quantization.Quantizer,
	metric distance.Metric,
	partRange model.PartitionRange,
	precomputed map[uint64]uint32,
	optFns ...Option,
) (err error) {
	if w == nil {
		return fmt.Errorf("%w: index writer is required", ErrInvalidArgument)
	}
	start := time.Now()
	before := w.Offset()
	o := applyOptions(optFns)
	logger := buildLogger(o, partRange)

	m, err := prepare(data, column, state, q, metric, partRange, precomputed, o)
	if err != nil {
		return err
	}

	if o.Ledger != nil {
		if err := checkLedger(ctx, o, partRange); err != nil {
			if errors.Is(err, ErrAlreadyCommitted) {
				logger.InfoContext(ctx, "partition range already committed, skipping build")
			}
			return err
		}
	}

	defer func() {
		err = translateError(err)
		o.Observer.ObserveBuild(partRange, time.Since(start), err)
		logger.LogBuild(ctx, w.Offset()-before, time.Since(start), err)
	}()

	ds, err := shuffleModel(ctx, data, m, o, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil {
			logger.WarnContext(ctx, "failed to release shuffle files", "error", cerr)
		}
	}()

	writeStart := time.Now()
	err = ivf.WriteIndexPartitions(ctx, w, state, ds.Partitions(), partRange)
	rows := int(w.Offset() - before)
	o.Observer.ObservePhase(PhaseWrite, time.Since(writeStart), rows, err)
	logger.LogPhase(ctx, PhaseWrite, time.Since(writeStart), rows, err)
	if err != nil {
		return err
	}

	if o.Ledger != nil {
		if err := o.Ledger.Commit(ctx, o.IndexName, partRange); err != nil {
			return fmt.Errorf("commit %s: %w", partRange, err)
		}
	}
	return nil
}

// Dataset is a shuffled, partitioned dataset. Partitions must be iterated at
// most once; Close releases spill files whether or not it was.
type Dataset struct {
	parts  iter.Seq2[shuffle.Partition, error]
	closer func() error
}

// Partitions yields the partitions in ascending id order.
func (d *Dataset) Partitions() iter.Seq2[shuffle.Partition, error] {
	return d.parts
}

// Close releases the resources held by the dataset. It is safe to call more
// than once.
func (d *Dataset) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// ShuffleDataset runs the transform stage and the configured shuffle over data
// and returns the partitions of partRange without writing them. It validates
// its inputs the way BuildPartitions does. The ledger option is ignored.
func ShuffleDataset(
	ctx context.Context,
	data batch.Stream,
	column string,
	state *ivf.IVF,
	q quantization.Quantizer,
	metric distance.Metric,
	partRange model.PartitionRange,
	precomputed map[uint64]uint32,
	optFns ...Option,
) (*Dataset, error) {
	o := applyOptions(optFns)
	m, err := prepare(data, column, state, q, metric, partRange, precomputed, o)
	if err != nil {
		return nil, err
	}
	ds, err := shuffleModel(ctx, data, m, o, buildLogger(o, partRange))
	if err != nil {
		return nil, translateError(err)
	}
	ds.parts = translateSeq(ds.parts)
	return ds, nil
}

func prepare(
	data batch.Stream,
	column string,
	state *ivf.IVF,
	q quantization.Quantizer,
	metric distance.Metric,
	partRange model.PartitionRange,
	precomputed map[uint64]uint32,
	o Options,
) (*ivf.Model, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if state == nil || data == nil {
		return nil, fmt.Errorf("%w: ivf model and data are required", ErrInvalidArgument)
	}
	m, err := ivf.NewModel(state, metric, column, q,
		ivf.WithPartitionRange(partRange),
		ivf.WithPrecomputedPartitions(precomputed),
	)
	if err != nil {
		return nil, translateError(err)
	}
	if err := m.ValidateSchema(data.Schema()); err != nil {
		return nil, translateError(err)
	}
	return m, nil
}

func checkLedger(ctx context.Context, o Options, r model.PartitionRange) error {
	committed, err := o.Ledger.Committed(ctx, o.IndexName)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	if ledger.Covered(committed, r) {
		return fmt.Errorf("%w: %s of %s", ErrAlreadyCommitted, r, o.IndexName)
	}
	if err := ledger.CheckOverlap(committed, r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func shuffleModel(ctx context.Context, data batch.Stream, m *ivf.Model, o Options, logger *Logger) (*Dataset, error) {
	rc := newController(o, logger)
	observer := phaseRecorder{ctx: ctx, logger: logger, observer: o.Observer}
	partitioned := ivf.TransformStream(data, m, o.Parallelism)

	switch o.Strategy {
	case StrategySort:
		sg := shuffle.NewSortGroup(
			exec.NewContext(rc, exec.WithLogger(logger.Logger)),
			shuffle.WithSortLogger(logger.Logger),
			shuffle.WithSortObserver(observer),
		)
		parts, err := sg.Shuffle(ctx, partitioned)
		if err != nil {
			return nil, err
		}
		return &Dataset{parts: parts}, nil
	default:
		ds, err := shuffle.NewDiskShuffler(m.PartitionRange(), func(d *shuffle.DiskOptions) {
			d.TempDir = o.TempDir
			d.Compression = o.Compression
			d.ChunkSize = o.ChunkSize
			d.FanOutFactor = o.FanOutFactor
			d.Resources = rc
			d.Logger = logger.Logger
			d.Observer = observer
		})
		if err != nil {
			return nil, err
		}
		parts, err := ds.Shuffle(ctx, partitioned)
		if err != nil {
			return nil, err
		}
		return &Dataset{parts: parts, closer: ds.Close}, nil
	}
}

func newController(o Options, logger *Logger) *resource.Controller {
	limit := o.MemoryLimitBytes
	switch {
	case limit < 0:
		limit = 0
	case limit == 0:
		limit = resource.MemoryLimitFromEnv(logger.Logger)
	}
	return resource.NewController(resource.Config{
		MemoryLimitBytes:   limit,
		IOLimitBytesPerSec: o.IOLimitBytesPerSec,
	})
}

func buildLogger(o Options, r model.PartitionRange) *Logger {
	l := o.Logger.WithRange(r).WithStrategy(o.Strategy)
	if o.IndexName != "" {
		l = l.WithIndex(o.IndexName)
	}
	return l
}

func translateSeq(parts iter.Seq2[shuffle.Partition, error]) iter.Seq2[shuffle.Partition, error] {
	return func(yield func(shuffle.Partition, error) bool) {
		for p, err := range parts {
			if err != nil {
				yield(p, translateError(err))
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// phaseRecorder forwards shuffle phases to both the log and the observer.
type phaseRecorder struct {
	ctx      context.Context
	logger   *Logger
	observer MetricsObserver
}

func (p phaseRecorder) ObservePhase(phase string, elapsed time.Duration, rows int, err error) {
	p.logger.LogPhase(p.ctx, phase, elapsed, rows, err)
	p.observer.ObservePhase(phase, elapsed, rows, err)
}
