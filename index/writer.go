package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/blobstore"
	"github.com/hupe1980/ivfbuild/internal/hash"
	"github.com/hupe1980/ivfbuild/internal/spill"
	"github.com/hupe1980/ivfbuild/ivf"
	"github.com/hupe1980/ivfbuild/model"
)

// ErrClosed is returned when a finished or aborted writer is used.
var ErrClosed = errors.New("index: writer closed")

// Writer streams partition batches into a partition file. It implements
// ivf.IndexWriter. The file is published by Finish.
type Writer struct {
	blob        blobstore.WritableBlob
	schema      *batch.Schema
	compression Compression
	partRange   *model.PartitionRange

	pos    uint64
	rows   uint64
	blocks []blockRef
	err    error
	closed bool
}

var _ ivf.IndexWriter = (*Writer)(nil)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompression sets the block codec. Default: LZ4.
func WithCompression(c Compression) WriterOption {
	return func(w *Writer) {
		w.compression = c
	}
}

// WithPartitionRange records the partition range the file covers. The
// default is every partition of the IVF passed to Finish.
func WithPartitionRange(r model.PartitionRange) WriterOption {
	return func(w *Writer) {
		w.partRange = &r
	}
}

// NewWriter writes the file header to blob. schema must be the partitioned
// stream schema (see batch.PartitionedSchema).
func NewWriter(blob blobstore.WritableBlob, schema *batch.Schema, opts ...WriterOption) (*Writer, error) {
	if _, err := schema.Require(batch.RowIDColumn, batch.TypeUint64, 0); err != nil {
		return nil, err
	}
	if _, err := schema.Require(batch.PartIDColumn, batch.TypeUint32, 0); err != nil {
		return nil, err
	}

	w := &Writer{blob: blob, schema: schema, compression: CompressionLZ4}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.write(encodeHeader()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if _, err := w.blob.Write(p); err != nil {
		w.err = fmt.Errorf("index: write: %w", err)
		return w.err
	}
	w.pos += uint64(len(p))
	return nil
}

// WriteBatch appends b as one block.
func (w *Writer) WriteBatch(ctx context.Context, b *batch.Batch) error {
	if w.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.NumRows() == 0 {
		return nil
	}
	if !b.Schema().Equal(w.schema) {
		return &batch.SchemaError{Reason: fmt.Sprintf("batch %s does not match index %s", b.Schema(), w.schema)}
	}

	block, err := spill.EncodeBlock(b, w.compression)
	if err != nil {
		return err
	}
	ref := blockRef{Offset: w.pos, Size: uint32(len(block)), FirstRow: w.rows, Rows: uint32(b.NumRows())}
	if err := w.write(block); err != nil {
		return err
	}
	w.blocks = append(w.blocks, ref)
	w.rows += uint64(b.NumRows())
	return nil
}

// Offset returns the number of rows written so far.
func (w *Writer) Offset() uint64 { return w.rows }

// Finish writes the footer for index and publishes the file. The writer is
// aborted if Finish fails.
func (w *Writer) Finish(ctx context.Context, index *ivf.IVF) error {
	if w.closed {
		return ErrClosed
	}
	if err := w.finish(ctx, index); err != nil {
		return errors.Join(err, w.Abort(ctx))
	}
	return nil
}

func (w *Writer) finish(ctx context.Context, index *ivf.IVF) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if next := index.NextOffset(); next > w.rows {
		return fmt.Errorf("%w: directory ends at row %d, %d rows written", ErrCorrupt, next, w.rows)
	}

	r := model.FullRange(index.NumPartitions())
	if w.partRange != nil {
		r = *w.partRange
	}
	dir := make([]Entry, index.NumPartitions())
	for i := range dir {
		dir[i].Offset, dir[i].Length = index.Partition(uint32(i))
	}

	f := footer{
		Dim:         index.Dimension(),
		Range:       r,
		Compression: w.compression,
		Schema:      w.schema,
		Centroids:   index.Centroids(),
		Directory:   dir,
		Blocks:      w.blocks,
	}
	body := f.encode()
	t := trailer{
		FooterOffset: w.pos,
		FooterLen:    uint32(len(body)),
		FooterCRC:    hash.CRC32C(body),
		Rows:         w.rows,
	}
	if err := w.write(body); err != nil {
		return err
	}
	if err := w.write(t.encode()); err != nil {
		return err
	}
	if err := w.blob.Sync(); err != nil {
		return fmt.Errorf("index: sync: %w", err)
	}
	w.closed = true
	return w.blob.Close()
}

// Abort discards the partial file.
func (w *Writer) Abort(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	return blobstore.Abort(ctx, w.blob)
}
