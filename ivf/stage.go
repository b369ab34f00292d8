package ivf

import (
	"context"
	"fmt"
	"iter"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ivfbuild/batch"
)

// TransformStream runs m.TransformBatch over every batch of in with at most
// parallelism tasks in flight. Output order follows task completion, not
// input order. A parallelism below 1 means runtime.GOMAXPROCS(0).
//
// The first task failure or source error ends the stream; in-flight tasks are
// cancelled. Abandoning the iteration cancels them as well.
func TransformStream(in batch.Stream, m *Model, parallelism int) batch.Stream {
	return newTransformStream(in, m.OutputSchema(), m.TransformBatch, parallelism)
}

type transformFunc func(*batch.Batch) (*batch.Batch, error)

type transformStream struct {
	in          batch.Stream
	schema      *batch.Schema
	transform   transformFunc
	parallelism int
}

func newTransformStream(in batch.Stream, schema *batch.Schema, fn transformFunc, parallelism int) *transformStream {
	if parallelism < 1 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	return &transformStream{in: in, schema: schema, transform: fn, parallelism: parallelism}
}

func (s *transformStream) Schema() *batch.Schema { return s.schema }

func (s *transformStream) All(ctx context.Context) iter.Seq2[*batch.Batch, error] {
	return func(yield func(*batch.Batch, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.parallelism)

		results := make(chan *batch.Batch, s.parallelism)
		done := make(chan error, 1)

		go func() {
			seq := 0
			for b, err := range s.in.All(gctx) {
				if err != nil {
					g.Go(func() error { return err })
					break
				}
				if gctx.Err() != nil {
					break
				}
				idx := seq
				seq++
				// Go blocks while parallelism tasks are running, which stops
				// pulling from the source.
				g.Go(func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = &TaskError{Batch: idx, Panicked: true, cause: fmt.Errorf("%v", r)}
						}
					}()
					out, err := s.transform(b)
					if err != nil {
						return &TaskError{Batch: idx, cause: err}
					}
					select {
					case results <- out:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			}
			done <- g.Wait()
			close(results)
		}()

		for out := range results {
			if !yield(out, nil) {
				cancel()
				for range results {
				}
				<-done
				return
			}
		}

		if err := <-done; err != nil {
			yield(nil, err)
		}
	}
}
