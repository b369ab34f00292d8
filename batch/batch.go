package batch

import (
	"fmt"
)

// Batch is an immutable set of equal-length columns conforming to a schema.
type Batch struct {
	schema  *Schema
	columns []Column
	numRows int
}

// New validates the columns against schema and assembles a batch.
func New(schema *Schema, columns ...Column) (*Batch, error) {
	if len(columns) != schema.NumFields() {
		return nil, &SchemaError{Reason: fmt.Sprintf("got %d columns for %d fields", len(columns), schema.NumFields())}
	}

	numRows := -1
	for i, c := range columns {
		f := schema.FieldAt(i)
		if c.Type() != f.Type {
			return nil, &SchemaError{Column: f.Name, Reason: fmt.Sprintf("has type %s, want %s", c.Type(), f.Type)}
		}
		if c.Width() != f.Width {
			return nil, &SchemaError{Column: f.Name, Reason: fmt.Sprintf("has width %d, want %d", c.Width(), f.Width)}
		}
		if numRows >= 0 && c.Len() != numRows {
			return nil, &SchemaError{Column: f.Name, Reason: fmt.Sprintf("has %d rows, want %d", c.Len(), numRows)}
		}
		numRows = c.Len()
	}
	if numRows < 0 {
		numRows = 0
	}

	return &Batch{schema: schema, columns: columns, numRows: numRows}, nil
}

// Empty returns a zero-row batch of the given schema.
func Empty(schema *Schema) *Batch {
	cols := make([]Column, schema.NumFields())
	for i := range cols {
		cols[i] = emptyColumn(schema.FieldAt(i))
	}
	return &Batch{schema: schema, columns: cols}
}

// Schema returns the batch schema.
func (b *Batch) Schema() *Schema { return b.schema }

// NumRows returns the number of rows.
func (b *Batch) NumRows() int { return b.numRows }

// NumColumns returns the number of columns.
func (b *Batch) NumColumns() int { return len(b.columns) }

// Column returns the i-th column.
func (b *Batch) Column(i int) Column { return b.columns[i] }

// ColumnByName returns the named column.
func (b *Batch) ColumnByName(name string) (Column, bool) {
	i := b.schema.FieldIndex(name)
	if i < 0 {
		return nil, false
	}
	return b.columns[i], true
}

// SizeBytes returns the total payload size of all columns.
func (b *Batch) SizeBytes() int64 {
	var n int64
	for _, c := range b.columns {
		n += c.SizeBytes()
	}
	return n
}

// Slice returns rows [i, j) as a batch sharing storage with b.
func (b *Batch) Slice(i, j int) *Batch {
	if i < 0 || j > b.numRows || i > j {
		panic(fmt.Sprintf("batch: slice [%d:%d] out of range for %d rows", i, j, b.numRows))
	}
	cols := make([]Column, len(b.columns))
	for k, c := range b.columns {
		cols[k] = c.Slice(i, j)
	}
	return &Batch{schema: b.schema, columns: cols, numRows: j - i}
}

// Take gathers the rows at idx into a new batch.
func (b *Batch) Take(idx []int) *Batch {
	cols := make([]Column, len(b.columns))
	for k, c := range b.columns {
		cols[k] = c.Take(idx)
	}
	return &Batch{schema: b.schema, columns: cols, numRows: len(idx)}
}

// Uint64 returns the named uint64 column.
func (b *Batch) Uint64(name string) (Uint64Column, error) {
	c, err := b.typed(name, TypeUint64)
	if err != nil {
		return nil, err
	}
	return c.(Uint64Column), nil
}

// Uint32 returns the named uint32 column.
func (b *Batch) Uint32(name string) (Uint32Column, error) {
	c, err := b.typed(name, TypeUint32)
	if err != nil {
		return nil, err
	}
	return c.(Uint32Column), nil
}

// Vectors returns the named float32 vector column.
func (b *Batch) Vectors(name string) (VectorColumn, error) {
	c, err := b.typed(name, TypeFloat32Vector)
	if err != nil {
		return VectorColumn{}, err
	}
	return c.(VectorColumn), nil
}

// FixedSizeBinary returns the named fixed-size binary column.
func (b *Batch) FixedSizeBinary(name string) (FixedSizeBinaryColumn, error) {
	c, err := b.typed(name, TypeFixedSizeBinary)
	if err != nil {
		return FixedSizeBinaryColumn{}, err
	}
	return c.(FixedSizeBinaryColumn), nil
}

func (b *Batch) typed(name string, typ DataType) (Column, error) {
	if _, err := b.schema.Require(name, typ, 0); err != nil {
		return nil, err
	}
	c, _ := b.ColumnByName(name)
	return c, nil
}

// Concat appends batches of the same schema into one batch.
// An empty input produces an empty batch.
func Concat(schema *Schema, batches []*Batch) (*Batch, error) {
	switch len(batches) {
	case 0:
		return Empty(schema), nil
	case 1:
		if !batches[0].schema.Equal(schema) {
			return nil, &SchemaError{Reason: fmt.Sprintf("cannot concat %s into %s", batches[0].schema, schema)}
		}
		return batches[0], nil
	}

	total := 0
	for _, b := range batches {
		if !b.schema.Equal(schema) {
			return nil, &SchemaError{Reason: fmt.Sprintf("cannot concat %s into %s", b.schema, schema)}
		}
		total += b.numRows
	}

	cols := make([]Column, schema.NumFields())
	parts := make([]Column, len(batches))
	for k := range cols {
		f := schema.FieldAt(k)
		for i, b := range batches {
			parts[i] = b.columns[k]
		}
		cols[k] = concatColumns(f.Type, f.Width, parts)
	}
	return &Batch{schema: schema, columns: cols, numRows: total}, nil
}
