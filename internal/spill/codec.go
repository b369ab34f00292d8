package spill

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/ivfbuild/batch"
	"github.com/hupe1980/ivfbuild/internal/hash"
)

var (
	// ErrCorrupt is returned when spilled data fails framing or checksum checks.
	ErrCorrupt = errors.New("spill: corrupt data")
	// ErrBlockTooLarge is returned when a batch does not fit the 32-bit
	// fields of a block frame. Callers split such batches.
	ErrBlockTooLarge = errors.New("spill: block too large")
)

// maxBlockField bounds the row count and the lengths of one block frame,
// header included, so index block tables can store the frame size in 32 bits.
var maxBlockField uint64 = math.MaxUint32

// BlockHeaderSize is the fixed size of a block frame header.
//
// Layout (little-endian): [rows u32][rawLen u32][storedLen u32][codec u8][3 reserved][crc32c u32]
// The checksum covers the first 16 header bytes and the stored payload.
const BlockHeaderSize = 20

// EncodeBlock encodes b as one framed block. The payload is column-major in
// schema order.
func EncodeBlock(b *batch.Batch, c Compression) ([]byte, error) {
	rows := uint64(b.NumRows())
	if rawLen := uint64(rowBytes(b.Schema())) * rows; rows > maxBlockField || rawLen > maxBlockField {
		return nil, fmt.Errorf("%w: %d rows encode to %d bytes", ErrBlockTooLarge, rows, rawLen)
	}
	raw := encodeColumns(b)
	stored, used, err := compress(raw, c)
	if err != nil {
		return nil, fmt.Errorf("spill: compress block: %w", err)
	}
	if frame := uint64(BlockHeaderSize + len(stored)); frame > maxBlockField {
		return nil, fmt.Errorf("%w: %d byte frame", ErrBlockTooLarge, frame)
	}

	out := make([]byte, BlockHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:], uint32(b.NumRows()))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[8:], uint32(len(stored)))
	out[12] = byte(used)
	copy(out[BlockHeaderSize:], stored)

	crc := hash.UpdateCRC32C(0, out[:16])
	crc = hash.UpdateCRC32C(crc, stored)
	binary.LittleEndian.PutUint32(out[16:], crc)
	return out, nil
}

// blockHeader is the decoded frame header.
type blockHeader struct {
	rows      int
	rawLen    int
	storedLen int
	codec     Compression
	crc       uint32
}

func parseBlockHeader(h []byte) (blockHeader, error) {
	if len(h) < BlockHeaderSize {
		return blockHeader{}, fmt.Errorf("%w: short block header", ErrCorrupt)
	}
	bh := blockHeader{
		rows:      int(binary.LittleEndian.Uint32(h[0:])),
		rawLen:    int(binary.LittleEndian.Uint32(h[4:])),
		storedLen: int(binary.LittleEndian.Uint32(h[8:])),
		codec:     Compression(h[12]),
		crc:       binary.LittleEndian.Uint32(h[16:]),
	}
	if bh.codec > CompressionZSTD {
		return blockHeader{}, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, h[12])
	}
	return bh, nil
}

// DecodeBlock decodes one framed block produced by EncodeBlock.
func DecodeBlock(schema *batch.Schema, data []byte) (*batch.Batch, error) {
	bh, err := parseBlockHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) != BlockHeaderSize+bh.storedLen {
		return nil, fmt.Errorf("%w: block is %d bytes, header says %d", ErrCorrupt, len(data), BlockHeaderSize+bh.storedLen)
	}
	return decodePayload(schema, data[:BlockHeaderSize], bh, data[BlockHeaderSize:])
}

func decodePayload(schema *batch.Schema, header []byte, bh blockHeader, stored []byte) (*batch.Batch, error) {
	crc := hash.UpdateCRC32C(0, header[:16])
	crc = hash.UpdateCRC32C(crc, stored)
	if crc != bh.crc {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if want := rowBytes(schema) * bh.rows; want != bh.rawLen {
		return nil, fmt.Errorf("%w: %d rows need %d bytes, header says %d", ErrCorrupt, bh.rows, want, bh.rawLen)
	}

	raw, err := decompress(stored, bh.codec, bh.rawLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return decodeColumns(schema, bh.rows, raw)
}

// rowBytes returns the encoded size of one row.
func rowBytes(s *batch.Schema) int {
	n := 0
	for _, f := range s.Fields() {
		switch f.Type {
		case batch.TypeUint64:
			n += 8
		case batch.TypeUint32:
			n += 4
		case batch.TypeFloat32Vector:
			n += 4 * f.Width
		case batch.TypeFixedSizeBinary:
			n += f.Width
		}
	}
	return n
}

func encodeColumns(b *batch.Batch) []byte {
	out := make([]byte, 0, rowBytes(b.Schema())*b.NumRows())
	for i := 0; i < b.NumColumns(); i++ {
		switch c := b.Column(i).(type) {
		case batch.Uint64Column:
			for _, v := range c {
				out = binary.LittleEndian.AppendUint64(out, v)
			}
		case batch.Uint32Column:
			for _, v := range c {
				out = binary.LittleEndian.AppendUint32(out, v)
			}
		case batch.VectorColumn:
			for _, v := range c.Values {
				out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
			}
		case batch.FixedSizeBinaryColumn:
			out = append(out, c.Values...)
		}
	}
	return out
}

func decodeColumns(s *batch.Schema, rows int, raw []byte) (*batch.Batch, error) {
	cols := make([]batch.Column, s.NumFields())
	off := 0
	for i, f := range s.Fields() {
		switch f.Type {
		case batch.TypeUint64:
			col := make(batch.Uint64Column, rows)
			for j := range col {
				col[j] = binary.LittleEndian.Uint64(raw[off:])
				off += 8
			}
			cols[i] = col
		case batch.TypeUint32:
			col := make(batch.Uint32Column, rows)
			for j := range col {
				col[j] = binary.LittleEndian.Uint32(raw[off:])
				off += 4
			}
			cols[i] = col
		case batch.TypeFloat32Vector:
			vals := make([]float32, rows*f.Width)
			for j := range vals {
				vals[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
				off += 4
			}
			cols[i] = batch.NewVectorColumn(f.Width, vals)
		case batch.TypeFixedSizeBinary:
			n := rows * f.Width
			vals := make([]byte, n)
			copy(vals, raw[off:off+n])
			off += n
			cols[i] = batch.NewFixedSizeBinaryColumn(f.Width, vals)
		}
	}
	return batch.New(s, cols...)
}

// EncodeSchema serializes a schema.
//
// Layout: [numFields u16] then per field [nameLen u16][name][type u8][width u32]
func EncodeSchema(s *batch.Schema) []byte {
	out := binary.LittleEndian.AppendUint16(nil, uint16(s.NumFields()))
	for _, f := range s.Fields() {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(f.Name)))
		out = append(out, f.Name...)
		out = append(out, byte(f.Type))
		out = binary.LittleEndian.AppendUint32(out, uint32(f.Width))
	}
	return out
}

// DecodeSchema parses a schema produced by EncodeSchema.
func DecodeSchema(data []byte) (*batch.Schema, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short schema", ErrCorrupt)
	}
	n := int(binary.LittleEndian.Uint16(data))
	data = data[2:]

	fields := make([]batch.Field, 0, n)
	for i := 0; i < n; i++ {
		if len(data) < 2 {
			return nil, fmt.Errorf("%w: short schema field %d", ErrCorrupt, i)
		}
		l := int(binary.LittleEndian.Uint16(data))
		data = data[2:]
		if len(data) < l+5 {
			return nil, fmt.Errorf("%w: short schema field %d", ErrCorrupt, i)
		}
		fields = append(fields, batch.Field{
			Name:  string(data[:l]),
			Type:  batch.DataType(data[l]),
			Width: int(binary.LittleEndian.Uint32(data[l+1:])),
		})
		data = data[l+5:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing schema bytes", ErrCorrupt, len(data))
	}

	s, err := batch.NewSchema(fields...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return s, nil
}
