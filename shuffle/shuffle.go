package shuffle

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/hupe1980/ivfbuild/batch"
)

// Partition is the output for one partition id. Batches must be drained
// before advancing to the next partition.
type Partition struct {
	ID      uint32
	NumRows int
	Batches iter.Seq2[*batch.Batch, error]
}

// Shuffler regroups a partitioned stream (see batch.PartitionedSchema) by
// partition id. Partitions are yielded in strictly ascending id order.
type Shuffler interface {
	Shuffle(ctx context.Context, s batch.Stream) (iter.Seq2[Partition, error], error)
}

// PhaseObserver receives the outcome of each timed shuffle phase.
type PhaseObserver interface {
	ObservePhase(phase string, elapsed time.Duration, rows int, err error)
}

// Phase names reported through PhaseObserver and PhaseError.
const (
	PhaseSort   = "sort"
	PhaseStage  = "stage"
	PhaseBucket = "bucket"
	PhaseMerge  = "merge"
)

// PhaseError wraps a failure with the phase it happened in and how long the
// phase had been running.
type PhaseError struct {
	Phase   string
	Elapsed time.Duration
	cause   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("shuffle %s phase failed after %s: %v", e.Phase, e.Elapsed.Round(time.Millisecond), e.cause)
}

// Unwrap returns the underlying error.
func (e *PhaseError) Unwrap() error {
	return e.cause
}

func phaseError(phase string, start time.Time, err error) error {
	return &PhaseError{Phase: phase, Elapsed: time.Since(start), cause: err}
}

// chunked yields b in slices of at most size rows. Empty b yields nothing.
func chunked(b *batch.Batch, size int) iter.Seq2[*batch.Batch, error] {
	return func(yield func(*batch.Batch, error) bool) {
		for i := 0; i < b.NumRows(); i += size {
			if !yield(b.Slice(i, min(i+size, b.NumRows())), nil) {
				return
			}
		}
	}
}

type noopObserver struct{}

func (noopObserver) ObservePhase(string, time.Duration, int, error) {}
