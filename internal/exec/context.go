// Package exec is the memory-bounded execution context used by the in-memory
// sort-and-group shuffle. Every buffered batch is charged against a
// resource.Controller; exceeding the budget fails the operation outright.
package exec

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/resource"
)

// Context owns the memory pool for one build.
type Context struct {
	rc     *resource.Controller
	logger *slog.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// NewContext creates a context over the given pool. A nil pool is unbounded.
func NewContext(rc *resource.Controller, opts ...Option) *Context {
	if rc == nil {
		rc = resource.NewController(resource.Config{})
	}
	c := &Context{rc: rc, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewUnbounded creates a context with an unbounded pool.
func NewUnbounded(opts ...Option) *Context {
	return NewContext(nil, opts...)
}

// NewBounded creates a context with a greedy pool capped at limit bytes.
func NewBounded(limit int64, opts ...Option) *Context {
	return NewContext(resource.NewController(resource.Config{MemoryLimitBytes: limit}), opts...)
}

// FromEnv creates a context whose budget comes from resource.MemoryLimitEnv.
func FromEnv(logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := resource.MemoryLimitFromEnv(logger)
	if limit > 0 {
		logger.Debug("using bounded memory pool", "limit", limit)
		return NewBounded(limit, WithLogger(logger))
	}
	return NewUnbounded(WithLogger(logger))
}

// Controller returns the underlying memory pool.
func (c *Context) Controller() *resource.Controller { return c.rc }

// Sorted is a fully materialized batch holding a memory reservation until
// Release is called.
type Sorted struct {
	Batch *batch.Batch
	res   *resource.Reservation
}

// Release returns the reserved memory to the pool.
func (s *Sorted) Release() {
	if s != nil && s.res != nil {
		s.res.Free()
	}
}

// SortBy drains the stream and stably sorts all rows ascending by the named
// uint32 column. Rows with equal keys keep their arrival order.
func (c *Context) SortBy(ctx context.Context, s batch.Stream, column string) (*Sorted, error) {
	if _, err := s.Schema().Require(column, batch.TypeUint32, 0); err != nil {
		return nil, err
	}

	res := c.rc.NewReservation("sort " + column)
	var batches []*batch.Batch
	rows := 0
	for b, err := range s.All(ctx) {
		if err != nil {
			res.Free()
			return nil, err
		}
		if err := res.Grow(b.SizeBytes()); err != nil {
			res.Free()
			return nil, err
		}
		batches = append(batches, b)
		rows += b.NumRows()
	}

	// The concatenated copy is charged before the inputs are released.
	var inputBytes int64
	if len(batches) > 1 {
		inputBytes = res.Size()
		if err := res.Grow(inputBytes); err != nil {
			res.Free()
			return nil, err
		}
	}
	all, err := batch.Concat(s.Schema(), batches)
	if err != nil {
		res.Free()
		return nil, err
	}
	batches = nil
	res.Shrink(inputBytes)

	keys, err := all.Uint32(column)
	if err != nil {
		res.Free()
		return nil, err
	}

	// Permutation plus the gathered output.
	if err := res.Grow(int64(rows)*8 + all.SizeBytes()); err != nil {
		res.Free()
		return nil, err
	}
	perm := make([]int, rows)
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) int {
		switch {
		case keys[a] < keys[b]:
			return -1
		case keys[a] > keys[b]:
			return 1
		default:
			return 0
		}
	})
	sorted := all.Take(perm)
	res.Shrink(int64(rows)*8 + all.SizeBytes())

	c.logger.DebugContext(ctx, "sorted stream", "column", column, "rows", rows, "reserved", res.Size())
	return &Sorted{Batch: sorted, res: res}, nil
}

// Group is one run of equal keys.
type Group struct {
	Key   uint32
	Batch *batch.Batch
}

// GroupRuns yields adjacent runs of equal values of the named uint32 column.
// Each group is a zero-copy slice of b.
func GroupRuns(b *batch.Batch, column string) (iter.Seq[Group], error) {
	keys, err := b.Uint32(column)
	if err != nil {
		return nil, fmt.Errorf("group runs: %w", err)
	}
	return func(yield func(Group) bool) {
		start := 0
		for start < len(keys) {
			end := start + 1
			for end < len(keys) && keys[end] == keys[start] {
				end++
			}
			if !yield(Group{Key: keys[start], Batch: b.Slice(start, end)}) {
				return
			}
			start = end
		}
	}, nil
}
