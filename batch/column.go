package batch

// Column is an immutable, typed column of values.
type Column interface {
	// Len returns the number of rows.
	Len() int
	// Type returns the physical type.
	Type() DataType
	// Width returns the list size for fixed-size list columns and 0 otherwise.
	Width() int
	// Slice returns rows [i, j) sharing the underlying storage.
	Slice(i, j int) Column
	// Take gathers the rows at idx into a new column.
	Take(idx []int) Column
	// SizeBytes returns the payload size in bytes.
	SizeBytes() int64
}

// Uint64Column holds uint64 values (row ids).
type Uint64Column []uint64

func (c Uint64Column) Len() int              { return len(c) }
func (c Uint64Column) Type() DataType        { return TypeUint64 }
func (c Uint64Column) Width() int            { return 0 }
func (c Uint64Column) Slice(i, j int) Column { return c[i:j:j] }
func (c Uint64Column) SizeBytes() int64      { return int64(len(c)) * 8 }
func (c Uint64Column) Take(idx []int) Column { return takeScalar(c, idx) }

// Uint32Column holds uint32 values (partition ids).
type Uint32Column []uint32

func (c Uint32Column) Len() int              { return len(c) }
func (c Uint32Column) Type() DataType        { return TypeUint32 }
func (c Uint32Column) Width() int            { return 0 }
func (c Uint32Column) Slice(i, j int) Column { return c[i:j:j] }
func (c Uint32Column) SizeBytes() int64      { return int64(len(c)) * 4 }
func (c Uint32Column) Take(idx []int) Column { return takeScalar(c, idx) }

func takeScalar[S ~[]E, E any](c S, idx []int) S {
	out := make(S, len(idx))
	for i, j := range idx {
		out[i] = c[j]
	}
	return out
}

// VectorColumn holds Dim-wide float32 vectors in row-major order.
type VectorColumn struct {
	Dim    int
	Values []float32
}

// NewVectorColumn wraps flat values as a column of dim-wide vectors.
func NewVectorColumn(dim int, values []float32) VectorColumn {
	return VectorColumn{Dim: dim, Values: values}
}

func (c VectorColumn) Len() int {
	if c.Dim == 0 {
		return 0
	}
	return len(c.Values) / c.Dim
}

func (c VectorColumn) Type() DataType   { return TypeFloat32Vector }
func (c VectorColumn) Width() int       { return c.Dim }
func (c VectorColumn) SizeBytes() int64 { return int64(len(c.Values)) * 4 }

// Row returns the i-th vector without copying.
func (c VectorColumn) Row(i int) []float32 {
	return c.Values[i*c.Dim : (i+1)*c.Dim : (i+1)*c.Dim]
}

func (c VectorColumn) Slice(i, j int) Column {
	return VectorColumn{Dim: c.Dim, Values: c.Values[i*c.Dim : j*c.Dim : j*c.Dim]}
}

func (c VectorColumn) Take(idx []int) Column {
	out := make([]float32, len(idx)*c.Dim)
	for i, j := range idx {
		copy(out[i*c.Dim:], c.Row(j))
	}
	return VectorColumn{Dim: c.Dim, Values: out}
}

// FixedSizeBinaryColumn holds Width-byte values in row-major order (PQ codes).
type FixedSizeBinaryColumn struct {
	Size   int
	Values []byte
}

// NewFixedSizeBinaryColumn wraps flat bytes as a column of width-byte values.
func NewFixedSizeBinaryColumn(width int, values []byte) FixedSizeBinaryColumn {
	return FixedSizeBinaryColumn{Size: width, Values: values}
}

func (c FixedSizeBinaryColumn) Len() int {
	if c.Size == 0 {
		return 0
	}
	return len(c.Values) / c.Size
}

func (c FixedSizeBinaryColumn) Type() DataType   { return TypeFixedSizeBinary }
func (c FixedSizeBinaryColumn) Width() int       { return c.Size }
func (c FixedSizeBinaryColumn) SizeBytes() int64 { return int64(len(c.Values)) }

// Row returns the i-th value without copying.
func (c FixedSizeBinaryColumn) Row(i int) []byte {
	return c.Values[i*c.Size : (i+1)*c.Size : (i+1)*c.Size]
}

func (c FixedSizeBinaryColumn) Slice(i, j int) Column {
	return FixedSizeBinaryColumn{Size: c.Size, Values: c.Values[i*c.Size : j*c.Size : j*c.Size]}
}

func (c FixedSizeBinaryColumn) Take(idx []int) Column {
	out := make([]byte, len(idx)*c.Size)
	for i, j := range idx {
		copy(out[i*c.Size:], c.Row(j))
	}
	return FixedSizeBinaryColumn{Size: c.Size, Values: out}
}

// concatColumns appends same-typed columns into one freshly allocated column.
func concatColumns(typ DataType, width int, cols []Column) Column {
	total := 0
	for _, c := range cols {
		total += c.Len()
	}

	switch typ {
	case TypeUint64:
		out := make(Uint64Column, 0, total)
		for _, c := range cols {
			out = append(out, c.(Uint64Column)...)
		}
		return out
	case TypeUint32:
		out := make(Uint32Column, 0, total)
		for _, c := range cols {
			out = append(out, c.(Uint32Column)...)
		}
		return out
	case TypeFloat32Vector:
		out := make([]float32, 0, total*width)
		for _, c := range cols {
			out = append(out, c.(VectorColumn).Values...)
		}
		return VectorColumn{Dim: width, Values: out}
	case TypeFixedSizeBinary:
		out := make([]byte, 0, total*width)
		for _, c := range cols {
			out = append(out, c.(FixedSizeBinaryColumn).Values...)
		}
		return FixedSizeBinaryColumn{Size: width, Values: out}
	default:
		panic("batch: unsupported column type " + typ.String())
	}
}

// emptyColumn returns a zero-row column of the field's type.
func emptyColumn(f Field) Column {
	switch f.Type {
	case TypeUint64:
		return Uint64Column{}
	case TypeUint32:
		return Uint32Column{}
	case TypeFloat32Vector:
		return VectorColumn{Dim: f.Width}
	case TypeFixedSizeBinary:
		return FixedSizeBinaryColumn{Size: f.Width}
	default:
		panic("batch: unsupported column type " + f.Type.String())
	}
}
