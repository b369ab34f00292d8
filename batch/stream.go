package batch

import (
	"context"
	"iter"
)

// Stream is a finite, single-pass sequence of batches with a known schema.
//
// Schema must be answerable before the first batch is read so callers can
// validate input without performing any I/O.
type Stream interface {
	Schema() *Schema
	// All returns the batch sequence. Iteration stops at the first error.
	All(ctx context.Context) iter.Seq2[*Batch, error]
}

// FromBatches returns an in-memory stream over the given batches.
func FromBatches(schema *Schema, batches ...*Batch) Stream {
	return &sliceStream{schema: schema, batches: batches}
}

type sliceStream struct {
	schema  *Schema
	batches []*Batch
}

func (s *sliceStream) Schema() *Schema { return s.schema }

func (s *sliceStream) All(ctx context.Context) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		for _, b := range s.batches {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// FromSeq adapts a sequence constructor into a stream.
func FromSeq(schema *Schema, seq func(ctx context.Context) iter.Seq2[*Batch, error]) Stream {
	return &seqStream{schema: schema, seq: seq}
}

type seqStream struct {
	schema *Schema
	seq    func(ctx context.Context) iter.Seq2[*Batch, error]
}

func (s *seqStream) Schema() *Schema { return s.schema }

func (s *seqStream) All(ctx context.Context) iter.Seq2[*Batch, error] {
	return s.seq(ctx)
}

// Collect drains the stream into memory.
func Collect(ctx context.Context, s Stream) ([]*Batch, error) {
	var out []*Batch
	for b, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// CountRows drains the sequence and returns the total number of rows.
func CountRows(seq iter.Seq2[*Batch, error]) (int, error) {
	n := 0
	for b, err := range seq {
		if err != nil {
			return n, err
		}
		n += b.NumRows()
	}
	return n, nil
}
