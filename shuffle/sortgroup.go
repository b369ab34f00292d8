package shuffle

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/exec"
)

// SortGroup is the in-memory strategy: one stable sort of the whole stream by
// partition id inside a memory-bounded execution context, then adjacent-run
// grouping. Exceeding the budget fails the shuffle; there is no spill.
type SortGroup struct {
	exec      *exec.Context
	logger    *slog.Logger
	observer  PhaseObserver
	batchSize int
}

// SortGroupOption configures a SortGroup.
type SortGroupOption func(*SortGroup)

// WithSortLogger sets the logger.
func WithSortLogger(l *slog.Logger) SortGroupOption {
	return func(s *SortGroup) {
		s.logger = l
	}
}

// WithSortObserver sets the phase observer.
func WithSortObserver(o PhaseObserver) SortGroupOption {
	return func(s *SortGroup) {
		s.observer = o
	}
}

// WithSortBatchSize caps the rows of each yielded batch. A partition larger
// than n is yielded as several batches. Values below 1 are ignored.
func WithSortBatchSize(n int) SortGroupOption {
	return func(s *SortGroup) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSortGroup creates the strategy over ec. A nil ec is unbounded.
func NewSortGroup(ec *exec.Context, opts ...SortGroupOption) *SortGroup {
	if ec == nil {
		ec = exec.NewUnbounded()
	}
	s := &SortGroup{exec: ec, logger: slog.New(slog.DiscardHandler), observer: noopObserver{}, batchSize: DefaultOutputBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shuffle sorts the stream and returns the groups in ascending partition id.
// Only non-empty partitions are yielded.
func (s *SortGroup) Shuffle(ctx context.Context, in batch.Stream) (iter.Seq2[Partition, error], error) {
	start := time.Now()
	sorted, err := s.exec.SortBy(ctx, in, batch.PartIDColumn)
	if err != nil {
		err = phaseError(PhaseSort, start, err)
		s.observer.ObservePhase(PhaseSort, time.Since(start), 0, err)
		return nil, err
	}
	rows := sorted.Batch.NumRows()
	s.observer.ObservePhase(PhaseSort, time.Since(start), rows, nil)
	s.logger.InfoContext(ctx, "sorted partitioned stream",
		"rows", rows, "elapsed", time.Since(start), "reserved", s.exec.Controller().MemoryUsage())

	groups, err := exec.GroupRuns(sorted.Batch, batch.PartIDColumn)
	if err != nil {
		sorted.Release()
		return nil, err
	}

	return func(yield func(Partition, error) bool) {
		defer sorted.Release()
		for g := range groups {
			p := Partition{ID: g.Key, NumRows: g.Batch.NumRows(), Batches: chunked(g.Batch, s.batchSize)}
			if !yield(p, nil) {
				return
			}
		}
	}, nil
}
