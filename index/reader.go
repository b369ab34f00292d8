package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/blobstore"
	"github.com/hupe1980/ivfbuild/internal/hash"
	"github.com/hupe1980/ivfbuild/internal/spill"
	"github.com/hupe1980/ivfbuild/ivf"
	"github.com/hupe1980/ivfbuild/model"
)

// ErrPartitionOutOfRange is returned for a partition id beyond the directory.
var ErrPartitionOutOfRange = errors.New("index: partition out of range")

// Reader serves partitions of a finished file. It is safe for concurrent use
// if the underlying blob is.
type Reader struct {
	blob   blobstore.Blob
	footer *footer
	rows   uint64
}

// Open reads and verifies the header, footer and trailer of blob.
func Open(ctx context.Context, blob blobstore.Blob) (*Reader, error) {
	size := blob.Size()
	if size < HeaderSize+TrailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, size)
	}

	head, err := readAt(ctx, blob, 0, HeaderSize)
	if err != nil {
		return nil, err
	}
	if err := decodeHeader(head); err != nil {
		return nil, err
	}

	tail, err := readAt(ctx, blob, size-TrailerSize, TrailerSize)
	if err != nil {
		return nil, err
	}
	t, err := decodeTrailer(tail)
	if err != nil {
		return nil, err
	}
	if t.FooterOffset < HeaderSize || int64(t.FooterOffset)+int64(t.FooterLen) != size-TrailerSize {
		return nil, fmt.Errorf("%w: footer at %d+%d in %d bytes", ErrCorrupt, t.FooterOffset, t.FooterLen, size)
	}

	body, err := readAt(ctx, blob, int64(t.FooterOffset), int(t.FooterLen))
	if err != nil {
		return nil, err
	}
	if hash.CRC32C(body) != t.FooterCRC {
		return nil, fmt.Errorf("%w: footer checksum mismatch", ErrCorrupt)
	}
	f, err := decodeFooter(body)
	if err != nil {
		return nil, err
	}
	if err := validateBlocks(f.Blocks, t); err != nil {
		return nil, err
	}
	for i, e := range f.Directory {
		if e.Offset+uint64(e.Length) > t.Rows {
			return nil, fmt.Errorf("%w: partition %d ends past row %d", ErrCorrupt, i, t.Rows)
		}
	}

	return &Reader{blob: blob, footer: f, rows: t.Rows}, nil
}

func validateBlocks(blocks []blockRef, t trailer) error {
	pos, row := uint64(HeaderSize), uint64(0)
	for i, b := range blocks {
		if b.Offset != pos || b.FirstRow != row {
			return fmt.Errorf("%w: block %d at byte %d row %d, want byte %d row %d", ErrCorrupt, i, b.Offset, b.FirstRow, pos, row)
		}
		pos += uint64(b.Size)
		row += uint64(b.Rows)
	}
	if pos != t.FooterOffset || row != t.Rows {
		return fmt.Errorf("%w: blocks end at byte %d row %d", ErrCorrupt, pos, row)
	}
	return nil
}

func readAt(ctx context.Context, blob blobstore.Blob, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := blob.ReadAt(ctx, buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && got == n) {
		return nil, fmt.Errorf("index: read %d bytes at %d: %w", n, off, err)
	}
	return buf, nil
}

// Schema returns the row schema.
func (r *Reader) Schema() *batch.Schema { return r.footer.Schema }

// Dimension returns the centroid dimension.
func (r *Reader) Dimension() int { return r.footer.Dim }

// NumPartitions returns the number of centroids.
func (r *Reader) NumPartitions() int { return len(r.footer.Directory) }

// NumRows returns the number of rows in the file.
func (r *Reader) NumRows() uint64 { return r.rows }

// PartitionRange returns the range of partitions the file was built for.
func (r *Reader) PartitionRange() model.PartitionRange { return r.footer.Range }

// Compression returns the block codec used by the writer.
func (r *Reader) Compression() Compression { return r.footer.Compression }

// Centroids returns the flattened centroids. The slice must not be modified.
func (r *Reader) Centroids() []float32 { return r.footer.Centroids }

// Directory returns the partition directory. The slice must not be modified.
func (r *Reader) Directory() []Entry { return r.footer.Directory }

// IVF rebuilds the IVF state, centroids and directory, stored in the file.
func (r *Reader) IVF() (*ivf.IVF, error) {
	out, err := ivf.New(r.footer.Centroids, r.footer.Dim)
	if err != nil {
		return nil, err
	}
	for i, e := range r.footer.Directory {
		out.SetPartition(uint32(i), e.Offset, e.Length)
	}
	return out, nil
}

// ReadPartition returns the rows of partition id. Only the blocks holding
// them are read.
func (r *Reader) ReadPartition(ctx context.Context, id model.PartitionID) (*batch.Batch, error) {
	if int(id) >= len(r.footer.Directory) {
		return nil, fmt.Errorf("%w: %d of %d", ErrPartitionOutOfRange, id, len(r.footer.Directory))
	}
	e := r.footer.Directory[id]
	if e.Length == 0 {
		return batch.Empty(r.footer.Schema), nil
	}
	start, end := e.Offset, e.Offset+uint64(e.Length)

	blocks := r.footer.Blocks
	first := sort.Search(len(blocks), func(i int) bool { return blocks[i].endRow() > start })
	last := first
	for last < len(blocks) && blocks[last].FirstRow < end {
		last++
	}
	if first == last {
		return nil, fmt.Errorf("%w: no block holds rows [%d, %d)", ErrCorrupt, start, end)
	}

	span := blocks[last-1].Offset + uint64(blocks[last-1].Size) - blocks[first].Offset
	data, err := readAt(ctx, r.blob, int64(blocks[first].Offset), int(span))
	if err != nil {
		return nil, err
	}

	parts := make([]*batch.Batch, 0, last-first)
	for _, b := range blocks[first:last] {
		rel := b.Offset - blocks[first].Offset
		decoded, err := spill.DecodeBlock(r.footer.Schema, data[rel:rel+uint64(b.Size)])
		if err != nil {
			return nil, fmt.Errorf("%w: partition %d: %w", ErrCorrupt, id, err)
		}
		if decoded.NumRows() != int(b.Rows) {
			return nil, fmt.Errorf("%w: block holds %d rows, table says %d", ErrCorrupt, decoded.NumRows(), b.Rows)
		}
		parts = append(parts, decoded)
	}

	all, err := batch.Concat(r.footer.Schema, parts)
	if err != nil {
		return nil, err
	}
	lo := int(start - blocks[first].FirstRow)
	return all.Slice(lo, lo+int(e.Length)), nil
}

// Close closes the underlying blob.
func (r *Reader) Close() error {
	return r.blob.Close()
}
