package ivfbuild

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/index"
	"github.com/hupe1980/ivfbuild/internal/resource"
	"github.com/hupe1980/ivfbuild/internal/spill"
	"github.com/hupe1980/ivfbuild/ivf"
	"github.com/hupe1980/ivfbuild/model"
	"github.com/hupe1980/ivfbuild/shuffle"
)

var (
	// ErrSchema is returned when the input is missing the vector or row id
	// column. It is reported before any processing starts.
	ErrSchema = errors.New("ivfbuild: schema error")

	// ErrTransform is returned when assigning or encoding a batch fails.
	ErrTransform = errors.New("ivfbuild: transform error")

	// ErrResource is returned when the memory budget is exceeded or spill I/O
	// fails.
	ErrResource = errors.New("ivfbuild: resource error")

	// ErrInvalidArgument is returned for inconsistent models, ranges or options.
	ErrInvalidArgument = errors.New("ivfbuild: invalid argument")

	// ErrAlreadyCommitted is returned when the ledger already covers the
	// requested partition range. Nothing is written.
	ErrAlreadyCommitted = errors.New("ivfbuild: partition range already committed")
)

// translateError maps internal failures onto the package sentinels. The
// original chain stays reachable through errors.As.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrAlreadyCommitted) {
		return err
	}

	switch {
	case errors.Is(err, batch.ErrSchema):
		return fmt.Errorf("%w: %w", ErrSchema, err)
	case errors.Is(err, ivf.ErrTransform):
		return fmt.Errorf("%w: %w", ErrTransform, err)
	case isResourceError(err):
		return fmt.Errorf("%w: %w", ErrResource, err)
	case errors.Is(err, ivf.ErrInvalidModel),
		errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, shuffle.ErrInvalidArgument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}

func isResourceError(err error) bool {
	var pe *shuffle.PhaseError
	return errors.Is(err, resource.ErrMemoryLimitExceeded) ||
		errors.Is(err, spill.ErrCorrupt) ||
		errors.Is(err, index.ErrCorrupt) ||
		errors.As(err, &pe)
}
