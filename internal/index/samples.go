package index

import (
	"github.com/docwell-ai/ragcore/internal/vectormath"
)

// SampleCount is the number of reference vectors in a sample set. Each stored
// embedding persists its distance to all SampleCount samples.
const SampleCount = 5

// MinCorpusForSampling is the smallest corpus for which a sample set is
// built. Below this the index degenerates to a full scan: partitioning a
// handful of points five ways narrows nothing.
const MinCorpusForSampling = 2 * SampleCount

// SelectSamples picks up to k reference vectors from vectors using greedy
// max-min-distance selection: the seed is the vector farthest from the
// corpus centroid, and each subsequent pick maximises the minimum distance to
// the vectors already chosen. This favours spatial coverage over density, so
// per-sample distances discriminate well across the whole corpus.
//
// Duplicate vectors are skipped; if fewer than k distinct vectors exist the
// returned set is shorter than k and callers must not build an index from it.
func SelectSamples(vectors [][]float32, k int) [][]float32 {
	if len(vectors) == 0 || k <= 0 {
		return nil
	}

	dim := len(vectors[0])
	centroid := make([]float32, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i, x := range v {
			centroid[i] += x
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for i := range centroid {
		centroid[i] /= float32(n)
	}

	// Seed: farthest from the centroid.
	seed := -1
	best := -1.0
	for i, v := range vectors {
		if len(v) != dim {
			continue
		}
		if d := vectormath.Euclidean(v, centroid); d > best {
			best = d
			seed = i
		}
	}
	if seed < 0 {
		return nil
	}

	chosen := [][]float32{cloneVector(vectors[seed])}
	for len(chosen) < k {
		next := -1
		bestMin := 0.0
		for i, v := range vectors {
			if len(v) != dim {
				continue
			}
			minD := math32Max
			for _, c := range chosen {
				if d := vectormath.Euclidean(v, c); d < minD {
					minD = d
				}
			}
			// minD == 0 means v duplicates a chosen sample.
			if minD > bestMin {
				bestMin = minD
				next = i
			}
		}
		if next < 0 || bestMin == 0 {
			break
		}
		chosen = append(chosen, cloneVector(vectors[next]))
	}
	return chosen
}

// math32Max is a sentinel larger than any distance between finite vectors.
const math32Max = 1e38

// cloneVector returns a defensive copy so the sample set does not alias
// caller-owned storage.
func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
