package spill

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/hash"
)

const (
	fileMagic   uint32 = 0x53465649 // "IVFS"
	fileVersion uint16 = 1
	bufferSize         = 256 << 10
)

// Writer appends batches of one schema to a spill file.
//
// File layout: [magic u32][version u16][compression u8][reserved u8]
// [schemaLen u32][schema][crc32c u32] followed by framed blocks.
type Writer struct {
	bw          *bufio.Writer
	closer      io.Closer
	schema      *batch.Schema
	compression Compression
	rows        int64
	bytes       int64
}

// NewWriter writes the file header to w. If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer, schema *batch.Schema, c Compression) (*Writer, error) {
	sw := &Writer{
		bw:          bufio.NewWriterSize(w, bufferSize),
		schema:      schema,
		compression: c,
	}
	if cl, ok := w.(io.Closer); ok {
		sw.closer = cl
	}

	enc := EncodeSchema(schema)
	hdr := make([]byte, 0, 12+len(enc)+4)
	hdr = binary.LittleEndian.AppendUint32(hdr, fileMagic)
	hdr = binary.LittleEndian.AppendUint16(hdr, fileVersion)
	hdr = append(hdr, byte(c), 0)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(enc)))
	hdr = append(hdr, enc...)
	hdr = binary.LittleEndian.AppendUint32(hdr, hash.CRC32C(hdr))

	if _, err := sw.bw.Write(hdr); err != nil {
		return nil, err
	}
	sw.bytes = int64(len(hdr))
	return sw, nil
}

// Write appends one batch as a framed block. Empty batches are skipped.
func (w *Writer) Write(b *batch.Batch) error {
	if !b.Schema().Equal(w.schema) {
		return &batch.SchemaError{Reason: fmt.Sprintf("spill writer expects %s, got %s", w.schema, b.Schema())}
	}
	if b.NumRows() == 0 {
		return nil
	}
	block, err := EncodeBlock(b, w.compression)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(block); err != nil {
		return err
	}
	w.rows += int64(b.NumRows())
	w.bytes += int64(len(block))
	return nil
}

// Rows returns the number of rows written.
func (w *Writer) Rows() int64 { return w.rows }

// Bytes returns the number of bytes written including the header.
func (w *Writer) Bytes() int64 { return w.bytes }

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error { return w.bw.Flush() }

// Close flushes and closes the underlying writer when it is closable.
func (w *Writer) Close() error {
	err := w.bw.Flush()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// Reader iterates the blocks of a spill file.
type Reader struct {
	br     *bufio.Reader
	closer io.Closer
	schema *batch.Schema
	header [BlockHeaderSize]byte
	rows   int64
}

// NewReader reads and verifies the file header. If r is an io.Closer, Close
// closes it.
func NewReader(r io.Reader) (*Reader, error) {
	sr := &Reader{br: bufio.NewReaderSize(r, bufferSize)}
	if cl, ok := r.(io.Closer); ok {
		sr.closer = cl
	}

	var fixed [12]byte
	if _, err := io.ReadFull(sr.br, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrCorrupt, err)
	}
	if binary.LittleEndian.Uint32(fixed[0:]) != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(fixed[4:]); v != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}

	schemaLen := binary.LittleEndian.Uint32(fixed[8:])
	if schemaLen > 1<<20 {
		return nil, fmt.Errorf("%w: schema length %d", ErrCorrupt, schemaLen)
	}
	rest := make([]byte, schemaLen+4)
	if _, err := io.ReadFull(sr.br, rest); err != nil {
		return nil, fmt.Errorf("%w: read schema: %w", ErrCorrupt, err)
	}

	crc := hash.UpdateCRC32C(0, fixed[:])
	crc = hash.UpdateCRC32C(crc, rest[:schemaLen])
	if crc != binary.LittleEndian.Uint32(rest[schemaLen:]) {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}

	schema, err := DecodeSchema(rest[:schemaLen])
	if err != nil {
		return nil, err
	}
	sr.schema = schema
	return sr, nil
}

// Schema returns the schema recorded in the file header.
func (r *Reader) Schema() *batch.Schema { return r.schema }

// Rows returns the number of rows read so far.
func (r *Reader) Rows() int64 { return r.rows }

// Next returns the next batch, or io.EOF after the last block.
func (r *Reader) Next() (*batch.Batch, error) {
	if _, err := io.ReadFull(r.br, r.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read block header: %w", ErrCorrupt, err)
	}
	bh, err := parseBlockHeader(r.header[:])
	if err != nil {
		return nil, err
	}
	stored := make([]byte, bh.storedLen)
	if _, err := io.ReadFull(r.br, stored); err != nil {
		return nil, fmt.Errorf("%w: read block: %w", ErrCorrupt, err)
	}
	b, err := decodePayload(r.schema, r.header[:], bh, stored)
	if err != nil {
		return nil, err
	}
	r.rows += int64(b.NumRows())
	return b, nil
}

// All iterates the remaining batches.
func (r *Reader) All() iter.Seq2[*batch.Batch, error] {
	return func(yield func(*batch.Batch, error) bool) {
		for {
			b, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the underlying reader when it is closable.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
