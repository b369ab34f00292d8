// Package quantization provides the product quantizer used to compute the
// fixed-width codes stored alongside each partitioned row.
//
// Quantizers are immutable once constructed and safe to share across
// goroutines.
package quantization
