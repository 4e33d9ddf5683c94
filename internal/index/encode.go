package index

import (
	"fmt"
	"math"
)

// Encoding parameters for the sortable distance strings. Distances are
// rendered as zero-padded fixed-point so lexicographic order over the encoded
// column equals numeric order over the distances; this is what lets a plain
// B-tree index answer "distance within window" as a string range query.
const (
	// MaxEncodableDistance is the clamp ceiling. Distances between
	// L2-normalised vectors never exceed 2.0, so the ceiling only matters for
	// defensively-clamped garbage; the fixed width is what the ordering
	// guarantee depends on.
	MaxEncodableDistance = 999999.99
	// EncodedWidth is the total character width of an encoded distance,
	// including the decimal point ("000000.00").
	EncodedWidth = 9
)

// EncodeDistance renders d as a fixed-width, lexicographically sortable
// string. Values are clamped to [0, MaxEncodableDistance]; NaN clamps to the
// ceiling so it can never masquerade as a near match. Finite-ness of stored
// vectors is enforced separately at the store boundary; this clamp is only
// about preserving the fixed width.
func EncodeDistance(d float64) string {
	if math.IsNaN(d) {
		d = MaxEncodableDistance
	}
	if d < 0 {
		d = 0
	}
	if d > MaxEncodableDistance {
		d = MaxEncodableDistance
	}
	return fmt.Sprintf("%0*.2f", EncodedWidth, d)
}
