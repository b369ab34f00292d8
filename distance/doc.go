// Package distance provides the vector distance functions used for
// partition assignment and product quantization.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: Cosine distance (1 - cosine similarity)
//   - MetricDot: Negated dot product
//
// Every Func returned by Provider ranks smaller values as closer, so callers
// can pick the nearest centroid with a single strict less-than scan.
//
// # Usage
//
//	fn, err := distance.Provider(distance.MetricL2)
//	d := fn(a, b)
package distance
