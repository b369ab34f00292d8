package ivf

import (
	"errors"
	"fmt"
)

var (
	// ErrTransform is the sentinel for failures while assigning or encoding a batch.
	ErrTransform = errors.New("transform failed")
	// ErrInvalidModel is returned when model parameters are inconsistent.
	ErrInvalidModel = errors.New("invalid ivf model")
	// ErrPartitionOrder is returned when partitions reach the writer out of order.
	ErrPartitionOrder = errors.New("partitions out of order")
)

// TaskError reports the failure of one batch in the parallel transform stage.
type TaskError struct {
	// Batch is the input position of the failed batch.
	Batch int
	// Panicked is set when the task panicked rather than returned an error.
	Panicked bool
	cause    error
}

func (e *TaskError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("transform task for batch %d panicked: %v", e.Batch, e.cause)
	}
	return fmt.Sprintf("transform task for batch %d: %v", e.Batch, e.cause)
}

// Unwrap returns the underlying error.
func (e *TaskError) Unwrap() error {
	return e.cause
}

// Is makes every task failure match ErrTransform.
func (e *TaskError) Is(target error) bool {
	return target == ErrTransform
}
