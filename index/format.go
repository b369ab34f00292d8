package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/spill"
	"github.com/hupe1980/ivfbuild/model"
)

const (
	MagicNumber uint32 = 0x31505649 // "IVP1"
	Version     uint16 = 1

	HeaderSize  = 8
	TrailerSize = 28

	blockRefSize = 8 + 4 + 8 + 4
)

var (
	ErrInvalidMagic   = errors.New("index: invalid magic number")
	ErrInvalidVersion = errors.New("index: unsupported version")
	ErrCorrupt        = errors.New("index: corrupt file")
)

// Compression selects the block codec.
type Compression = spill.Compression

const (
	CompressionNone = spill.CompressionNone
	CompressionLZ4  = spill.CompressionLZ4
	CompressionZSTD = spill.CompressionZSTD
)

// Entry is one partition directory entry. Offset counts rows from the start
// of the file.
type Entry struct {
	Offset uint64
	Length uint32
}

// blockRef locates one framed block and the rows it holds.
type blockRef struct {
	Offset   uint64
	Size     uint32
	FirstRow uint64
	Rows     uint32
}

func (b blockRef) endRow() uint64 { return b.FirstRow + uint64(b.Rows) }

func encodeHeader() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], MagicNumber)
	binary.LittleEndian.PutUint16(buf[4:], Version)
	return buf
}

func decodeHeader(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(buf[0:]) != MagicNumber {
		return ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(buf[4:]) != Version {
		return ErrInvalidVersion
	}
	return nil
}

// trailer closes the file and points at the footer.
type trailer struct {
	FooterOffset uint64
	FooterLen    uint32
	FooterCRC    uint32
	Rows         uint64
}

func (t trailer) encode() []byte {
	buf := make([]byte, TrailerSize)
	binary.LittleEndian.PutUint64(buf[0:], t.FooterOffset)
	binary.LittleEndian.PutUint32(buf[8:], t.FooterLen)
	binary.LittleEndian.PutUint32(buf[12:], t.FooterCRC)
	binary.LittleEndian.PutUint64(buf[16:], t.Rows)
	binary.LittleEndian.PutUint32(buf[24:], MagicNumber)
	return buf
}

func decodeTrailer(buf []byte) (trailer, error) {
	if len(buf) != TrailerSize {
		return trailer{}, fmt.Errorf("%w: short trailer", ErrCorrupt)
	}
	if binary.LittleEndian.Uint32(buf[24:]) != MagicNumber {
		return trailer{}, ErrInvalidMagic
	}
	return trailer{
		FooterOffset: binary.LittleEndian.Uint64(buf[0:]),
		FooterLen:    binary.LittleEndian.Uint32(buf[8:]),
		FooterCRC:    binary.LittleEndian.Uint32(buf[12:]),
		Rows:         binary.LittleEndian.Uint64(buf[16:]),
	}, nil
}

// footer holds everything a reader needs besides the row blocks.
//
// Layout: [dim u32][k u32][rangeStart u32][rangeEnd u32][compression u8][pad 3]
// [schemaLen u32][schema][centroids f32*k*dim][offsets u64*k][lengths u32*k]
// [numBlocks u32][blocks]
type footer struct {
	Dim         int
	Range       model.PartitionRange
	Compression Compression
	Schema      *batch.Schema
	Centroids   []float32
	Directory   []Entry
	Blocks      []blockRef
}

func (f *footer) encode() []byte {
	k := len(f.Directory)
	schema := spill.EncodeSchema(f.Schema)
	size := 24 + len(schema) + 4*len(f.Centroids) + 12*k + 4 + blockRefSize*len(f.Blocks)

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.Dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(k))
	buf = binary.LittleEndian.AppendUint32(buf, f.Range.Start)
	buf = binary.LittleEndian.AppendUint32(buf, f.Range.End)
	buf = append(buf, byte(f.Compression), 0, 0, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(schema)))
	buf = append(buf, schema...)
	for _, v := range f.Centroids {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	for _, e := range f.Directory {
		buf = binary.LittleEndian.AppendUint64(buf, e.Offset)
	}
	for _, e := range f.Directory {
		buf = binary.LittleEndian.AppendUint32(buf, e.Length)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Blocks)))
	for _, b := range f.Blocks {
		buf = binary.LittleEndian.AppendUint64(buf, b.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, b.Size)
		buf = binary.LittleEndian.AppendUint64(buf, b.FirstRow)
		buf = binary.LittleEndian.AppendUint32(buf, b.Rows)
	}
	return buf
}

// decoder consumes a little-endian buffer and remembers the first short read.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf) < n {
		d.err = fmt.Errorf("%w: short footer", ErrCorrupt)
		return nil
	}
	out := d.buf[:n]
	d.buf = d.buf[n:]
	return out
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func decodeFooter(buf []byte) (*footer, error) {
	d := &decoder{buf: buf}
	f := &footer{}

	f.Dim = int(d.u32())
	k := int(d.u32())
	f.Range = model.PartitionRange{Start: d.u32(), End: d.u32()}
	if pad := d.take(4); pad != nil {
		f.Compression = Compression(pad[0])
	}
	schemaBytes := d.take(int(d.u32()))
	if d.err != nil {
		return nil, d.err
	}
	schema, err := spill.DecodeSchema(schemaBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	f.Schema = schema

	if f.Dim <= 0 || k <= 0 || len(d.buf) < 4*k*f.Dim {
		return nil, fmt.Errorf("%w: bad geometry %d x %d", ErrCorrupt, k, f.Dim)
	}
	f.Centroids = make([]float32, k*f.Dim)
	for i := range f.Centroids {
		f.Centroids[i] = math.Float32frombits(d.u32())
	}
	f.Directory = make([]Entry, k)
	for i := range f.Directory {
		f.Directory[i].Offset = d.u64()
	}
	for i := range f.Directory {
		f.Directory[i].Length = d.u32()
	}

	n := int(d.u32())
	if d.err == nil && len(d.buf) != n*blockRefSize {
		return nil, fmt.Errorf("%w: block table holds %d bytes for %d blocks", ErrCorrupt, len(d.buf), n)
	}
	f.Blocks = make([]blockRef, 0, n)
	for range n {
		if d.err != nil {
			break
		}
		f.Blocks = append(f.Blocks, blockRef{Offset: d.u64(), Size: d.u32(), FirstRow: d.u64(), Rows: d.u32()})
	}
	if d.err != nil {
		return nil, d.err
	}
	return f, nil
}
