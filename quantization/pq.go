package quantization

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/ivfbuild/distance"
)

// ProductQuantizer implements Product Quantization (PQ).
// PQ splits vectors into subvectors and encodes each one as the index of its
// nearest codeword in a per-subspace codebook.
//
// Example: 128-dim vector with M=8 subvectors → 8 uint8 codes = 8 bytes
type ProductQuantizer struct {
	numSubvectors int       // M: number of subvectors
	numCentroids  int       // K: number of codewords per subspace (<= 256)
	dimension     int       // D: original vector dimension
	subvectorDim  int       // D/M: dimensions per subvector
	codebooks     []float32 // M * K * subvectorDim
	residual      bool
}

// PQOption configures a ProductQuantizer.
type PQOption func(*ProductQuantizer)

// WithResidual makes the quantizer encode residuals (vec - centroid).
func WithResidual(residual bool) PQOption {
	return func(pq *ProductQuantizer) {
		pq.residual = residual
	}
}

// NewProductQuantizer creates a PQ from an already trained codebook.
// Parameters:
//   - dimension: Vector dimensionality (must be divisible by numSubvectors)
//   - numSubvectors: Number of subvectors (M), which is also the code width
//   - numCentroids: Codewords per subspace (K, at most 256 for uint8 codes)
//   - codebooks: M * K * (dimension/M) values laid out subspace by subspace
//
// The codebook is copied.
func NewProductQuantizer(dimension, numSubvectors, numCentroids int, codebooks []float32, opts ...PQOption) (*ProductQuantizer, error) {
	if dimension <= 0 || numSubvectors <= 0 {
		return nil, errors.New("dimension and numSubvectors must be positive")
	}
	if dimension%numSubvectors != 0 {
		return nil, errors.New("dimension must be divisible by numSubvectors")
	}
	if numCentroids <= 0 {
		return nil, errors.New("numCentroids must be positive")
	}
	if numCentroids > 256 {
		return nil, errors.New("numCentroids must be <= 256 for uint8 encoding")
	}

	subvectorDim := dimension / numSubvectors
	size := numSubvectors * numCentroids * subvectorDim
	if len(codebooks) != size {
		return nil, fmt.Errorf("codebook has %d values, want %d", len(codebooks), size)
	}
	for _, v := range codebooks {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("codebook: %w", ErrNonFinite)
		}
	}

	pq := &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		dimension:     dimension,
		subvectorDim:  subvectorDim,
		codebooks:     append([]float32(nil), codebooks...),
	}
	for _, opt := range opts {
		opt(pq)
	}
	return pq, nil
}

// Dimension returns the input vector length.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// NumSubVectors returns the number of subvectors, i.e. the code width in bytes.
func (pq *ProductQuantizer) NumSubVectors() int { return pq.numSubvectors }

// NumCentroids returns the number of codewords per subspace.
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// UseResidual reports whether residuals are encoded.
func (pq *ProductQuantizer) UseResidual() bool { return pq.residual }

// Codebooks returns a copy of the codebook.
func (pq *ProductQuantizer) Codebooks() []float32 {
	return append([]float32(nil), pq.codebooks...)
}

// Encode quantizes a vector into PQ codes.
// Returns M uint8 codes (one per subvector).
func (pq *ProductQuantizer) Encode(vec []float32) ([]byte, error) {
	codes := make([]byte, pq.numSubvectors)
	if err := pq.EncodeInto(codes, vec); err != nil {
		return nil, err
	}
	return codes, nil
}

// EncodeInto quantizes vec into dst. Ties resolve to the lowest codeword index.
func (pq *ProductQuantizer) EncodeInto(dst []byte, vec []float32) error {
	if len(vec) != pq.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, pq.dimension, len(vec))
	}
	if len(dst) < pq.numSubvectors {
		return fmt.Errorf("%w: destination holds %d bytes, need %d", ErrInvalidCode, len(dst), pq.numSubvectors)
	}

	for m := 0; m < pq.numSubvectors; m++ {
		start := m * pq.subvectorDim
		subvec := vec[start : start+pq.subvectorDim]

		idx := pq.findNearestCentroid(m, subvec)
		if idx < 0 {
			return fmt.Errorf("subvector %d: %w", m, ErrNonFinite)
		}
		dst[m] = uint8(idx)
	}
	return nil
}

// findNearestCentroid returns the index of the nearest codeword of subspace m,
// or -1 when no distance is comparable (NaN input).
func (pq *ProductQuantizer) findNearestCentroid(m int, subvec []float32) int {
	base := m * pq.numCentroids * pq.subvectorDim
	best := -1
	bestDist := float32(math.Inf(1))

	for k := 0; k < pq.numCentroids; k++ {
		off := base + k*pq.subvectorDim
		d := distance.SquaredL2(subvec, pq.codebooks[off:off+pq.subvectorDim])
		if d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	if len(codes) != pq.numSubvectors {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidCode, len(codes), pq.numSubvectors)
	}

	out := make([]float32, pq.dimension)
	for m, c := range codes {
		if int(c) >= pq.numCentroids {
			return nil, fmt.Errorf("%w: codeword %d >= %d", ErrInvalidCode, c, pq.numCentroids)
		}
		off := (m*pq.numCentroids + int(c)) * pq.subvectorDim
		copy(out[m*pq.subvectorDim:], pq.codebooks[off:off+pq.subvectorDim])
	}
	return out, nil
}
