// Package batch provides the columnar record batches and batch streams that
// flow through the partition build.
//
// A Batch is an immutable set of equal-length typed columns conforming to a
// Schema. Only the column types the build needs are supported: uint64 row
// ids, uint32 partition ids, fixed-size float32 vectors and fixed-size byte
// codes.
//
// A Stream exposes its Schema up front and yields batches as an
// iter.Seq2[*Batch, error]:
//
//	for b, err := range stream.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
package batch
