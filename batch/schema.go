package batch

import (
	"fmt"
	"strings"
)

// Reserved column names of the transformed (partitioned) stream.
const (
	RowIDColumn  = "_rowid"
	PartIDColumn = "__ivf_part_id"
	PQCodeColumn = "__pq_code"
)

// DataType is the physical type of a column.
type DataType uint8

const (
	TypeUint64 DataType = iota + 1
	TypeUint32
	// TypeFloat32Vector is a fixed-size list of float32. Width is the dimension.
	TypeFloat32Vector
	// TypeFixedSizeBinary is a fixed-size list of uint8. Width is the byte count.
	TypeFixedSizeBinary
)

func (t DataType) String() string {
	switch t {
	case TypeUint64:
		return "uint64"
	case TypeUint32:
		return "uint32"
	case TypeFloat32Vector:
		return "fixed_size_list<float32>"
	case TypeFixedSizeBinary:
		return "fixed_size_list<uint8>"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// hasWidth reports whether the type is parameterized by a width.
func (t DataType) hasWidth() bool {
	return t == TypeFloat32Vector || t == TypeFixedSizeBinary
}

// Field describes one column.
type Field struct {
	Name string
	Type DataType
	// Width is the list size for fixed-size list types and zero otherwise.
	Width int
}

func (f Field) String() string {
	if f.Type.hasWidth() {
		return fmt.Sprintf("%s: %s[%d]", f.Name, f.Type, f.Width)
	}
	return fmt.Sprintf("%s: %s", f.Name, f.Type)
}

// Schema is an ordered list of fields. Schemas are immutable once built.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Duplicate names or malformed widths are rejected.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	for i, f := range fields {
		if f.Name == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("field %d has no name", i)}
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, &SchemaError{Column: f.Name, Reason: "duplicate column"}
		}
		switch {
		case f.Type.hasWidth() && f.Width <= 0:
			return nil, &SchemaError{Column: f.Name, Reason: "fixed-size list requires a positive width"}
		case !f.Type.hasWidth() && f.Width != 0:
			return nil, &SchemaError{Column: f.Name, Reason: "width is only valid for fixed-size lists"}
		case f.Type < TypeUint64 || f.Type > TypeFixedSizeBinary:
			return nil, &SchemaError{Column: f.Name, Reason: "unsupported type " + f.Type.String()}
		}
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for fixed schemas.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// NumFields returns the number of fields.
func (s *Schema) NumFields() int { return len(s.fields) }

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldAt returns the i-th field.
func (s *Schema) FieldAt(i int) Field { return s.fields[i] }

// FieldIndex returns the position of the named field or -1.
func (s *Schema) FieldIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// HasField reports whether the schema has a column with the given name.
func (s *Schema) HasField(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Require returns the named field if it exists with the given type.
// Width is checked only when want is positive.
func (s *Schema) Require(name string, typ DataType, want int) (Field, error) {
	f, ok := s.Field(name)
	if !ok {
		return Field{}, &SchemaError{Column: name, Reason: "does not exist in data stream"}
	}
	if f.Type != typ {
		return Field{}, &SchemaError{Column: name, Reason: fmt.Sprintf("has type %s, want %s", f.Type, typ)}
	}
	if want > 0 && f.Width != want {
		return Field{}, &SchemaError{Column: name, Reason: fmt.Sprintf("has width %d, want %d", f.Width, want)}
	}
	return f, nil
}

// Equal reports whether both schemas have the same fields in the same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "schema<" + strings.Join(parts, ", ") + ">"
}

// PartitionedSchema returns the schema of the transformed stream:
// row id, partition id and a PQ code of codeWidth bytes.
func PartitionedSchema(codeWidth int) (*Schema, error) {
	return NewSchema(
		Field{Name: RowIDColumn, Type: TypeUint64},
		Field{Name: PartIDColumn, Type: TypeUint32},
		Field{Name: PQCodeColumn, Type: TypeFixedSizeBinary, Width: codeWidth},
	)
}
