// Package vectormath provides the small set of dense-vector operations the
// retrieval core is built on: dot product, L2 norm, normalisation, cosine
// similarity, and Euclidean distance. Vectors are []float32 (the wire and
// storage representation); accumulation is done in float64 to limit rounding
// drift on long vectors.
package vectormath

import (
	"fmt"
	"math"
)

// Dot returns the dot product of a and b. The slices must be the same length;
// callers are expected to have validated dimensions already.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean (L2) norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a new L2-normalised copy of v. A zero vector is returned
// as an unmodified copy; there is no direction to normalise to.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. It divides by
// both norms, so inputs need not be pre-normalised. Returns 0 when either
// vector is zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// Euclidean returns the Euclidean distance between a and b.
// The slices must be the same length.
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Validate checks that v is a well-formed embedding: non-empty, free of NaN
// and Inf components, and (when wantDim > 0) exactly wantDim long. Degenerate
// vectors must be rejected before they reach the persisted store; a single
// NaN poisons every similarity comparison it participates in.
func Validate(v []float32, wantDim int) error {
	if len(v) == 0 {
		return fmt.Errorf("vectormath: empty vector")
	}
	if wantDim > 0 && len(v) != wantDim {
		return fmt.Errorf("vectormath: dimension mismatch: got %d, want %d", len(v), wantDim)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("vectormath: component %d is not finite", i)
		}
	}
	return nil
}
