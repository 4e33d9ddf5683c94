package index

import (
	"math"
	"testing"
)

func Test_EncodeDistance_FixedWidth(t *testing.T) {
	t.Parallel()

	for _, d := range []float64{0, 0.004, 1.41, 999.99, 123456.78, MaxEncodableDistance} {
		if got := EncodeDistance(d); len(got) != EncodedWidth {
			t.Fatalf("EncodeDistance(%v) = %q, width %d, want %d", d, got, len(got), EncodedWidth)
		}
	}
}

func Test_EncodeDistance_LexicographicOrderMatchesNumeric(t *testing.T) {
	t.Parallel()

	distances := []float64{0, 0.01, 0.5, 1, 1.41, 2, 9.99, 10, 99.99, 100, 1000, 99999, 999999.99}
	for i := 1; i < len(distances); i++ {
		lo := EncodeDistance(distances[i-1])
		hi := EncodeDistance(distances[i])
		if !(lo < hi) {
			t.Fatalf("encoding broke ordering: %v -> %q not below %v -> %q",
				distances[i-1], lo, distances[i], hi)
		}
	}
}

func Test_EncodeDistance_ClampsOutOfRange(t *testing.T) {
	t.Parallel()

	ceiling := EncodeDistance(MaxEncodableDistance)
	if got := EncodeDistance(MaxEncodableDistance * 10); got != ceiling {
		t.Fatalf("over-range distance not clamped: %q vs %q", got, ceiling)
	}
	if got := EncodeDistance(math.NaN()); got != ceiling {
		t.Fatalf("NaN not mapped to ceiling: %q", got)
	}
	if got := EncodeDistance(-1); got != EncodeDistance(0) {
		t.Fatalf("negative distance not clamped to zero: %q", got)
	}
}
