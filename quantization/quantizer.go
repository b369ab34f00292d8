package quantization

import "errors"

var (
	// ErrDimensionMismatch is returned when an input vector has the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidCode is returned when a code has the wrong length or an out-of-range codeword.
	ErrInvalidCode = errors.New("invalid code")
	// ErrNonFinite is returned when a vector contains NaN or infinite components.
	ErrNonFinite = errors.New("non-finite vector component")
)

// Quantizer encodes vectors into fixed-width byte codes.
type Quantizer interface {
	// Dimension returns the expected input vector length.
	Dimension() int
	// NumSubVectors returns the code width in bytes.
	NumSubVectors() int
	// UseResidual reports whether callers must encode vec - centroid
	// instead of the raw vector.
	UseResidual() bool
	// EncodeInto writes the code for vec into dst, which must hold
	// NumSubVectors bytes.
	EncodeInto(dst []byte, vec []float32) error
}
