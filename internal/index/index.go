// Package index implements the distance-to-samples approximate vector index.
//
// Every stored embedding persists its distance to a small fixed set of
// reference ("sample") vectors as a sortable string, so an ordinary B-tree
// index can answer "which vectors lie within a tolerance window of the
// query's distance to sample N" as a range query. Candidates from the
// per-sample windows are then refined with exact cosine similarity, which
// guarantees no false positives reach the caller; false negatives (a true
// neighbour falling outside every window) are the accepted cost of avoiding
// a full scan. When no sample set exists, or the stored dimension does not
// match the query, the index falls back to a full linear scan.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/docwell-ai/ragcore/internal/vectormath"
)

// DefaultTolerance is the half-width of the per-sample distance window, in
// the same units as the distances themselves. This is the main recall/speed
// knob: too narrow starves the candidate set, too wide degrades toward a
// full scan.
const DefaultTolerance = 0.15

// CombineMode selects how per-sample candidate sets are merged.
type CombineMode string

const (
	// CombineUnion accepts a candidate found in any sample's window.
	// Recall-biased; the default.
	CombineUnion CombineMode = "union"
	// CombineIntersect requires a candidate in every sample's window.
	// Much stricter; cheaper refinement, lower recall.
	CombineIntersect CombineMode = "intersect"
)

// Candidate is a stored vector as surfaced by a Source.
type Candidate struct {
	// DocumentID identifies the owning document.
	DocumentID string
	// ChunkIndex is the chunk ordinal within the document.
	ChunkIndex int
	// Text is the denormalised chunk text.
	Text string
	// Vector is the full stored embedding, used for exact refinement.
	Vector []float32
}

// SampleSet is a versioned set of reference vectors. Distances encoded
// against one version are never compared with another version's; the store
// persists the version alongside each encoded distance and range queries are
// version-scoped.
type SampleSet struct {
	// Version identifies this set. Monotonically increasing.
	Version int
	// Dim is the vector dimension of the samples.
	Dim int
	// Vectors are the reference vectors, SampleCount of them once built.
	Vectors [][]float32
	// CorpusSize is the number of stored embeddings when the set was
	// selected; the reselection policy compares against it.
	CorpusSize int
}

// Source is the persisted-store surface the index searches over.
// *store.Store satisfies it.
type Source interface {
	// CurrentSampleSet returns the newest sample set, or nil when none exists.
	CurrentSampleSet(ctx context.Context) (*SampleSet, error)
	// CandidatesInRange returns stored vectors whose encoded distance to
	// sample `sample` (under the given set version) lies in [lo, hi],
	// restricted to docIDs.
	CandidatesInRange(ctx context.Context, sample, version int, lo, hi string, docIDs []string) ([]Candidate, error)
	// AllVectors returns every stored vector for the given documents
	// (all documents when docIDs is nil). Used for the full-scan fallback.
	AllVectors(ctx context.Context, docIDs []string) ([]Candidate, error)
}

// Memory surfaces vectors generated in process whose persisted rows have not
// yet been committed. *cache.Manager satisfies it.
type Memory interface {
	UnpersistedVectors(docIDs []string) []Candidate
}

// Result is a refined, scored candidate.
type Result struct {
	Candidate
	// Score is the exact cosine similarity to the query.
	Score float64
}

// Options configures an Index.
type Options struct {
	// Tolerance is the per-sample window half-width. Zero selects
	// DefaultTolerance.
	Tolerance float64
	// Combine selects union or intersection of per-sample candidate sets.
	// Empty selects CombineUnion.
	Combine CombineMode
	// Memory optionally surfaces vectors that are resident in process but not
	// yet committed to the Source. Overlaid onto every search so a freshly
	// generated document is visible before its background write lands.
	Memory Memory
}

// Index narrows similarity searches using precomputed sample distances and
// refines candidates with exact cosine similarity.
type Index struct {
	src  Source
	opts Options
	log  *slog.Logger
}

// New constructs an Index over the given source.
func New(src Source, opts Options, log *slog.Logger) (*Index, error) {
	if src == nil {
		return nil, fmt.Errorf("index: source must not be nil")
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.Combine == "" {
		opts.Combine = CombineUnion
	}
	if log == nil {
		log = slog.Default()
	}
	return &Index{src: src, opts: opts, log: log}, nil
}

// Search returns the topK stored vectors most similar to query among the
// given documents, with cosine similarity at least threshold. An empty docID
// set returns an empty result immediately. A missing or dimension-mismatched
// sample set falls back to a full scan; never an error.
func (ix *Index) Search(ctx context.Context, query []float32, docIDs []string, topK int, threshold float64) ([]Result, error) {
	if len(docIDs) == 0 || topK <= 0 {
		return nil, nil
	}
	if err := vectormath.Validate(query, 0); err != nil {
		return nil, fmt.Errorf("index: query vector: %w", err)
	}

	set, err := ix.src.CurrentSampleSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("index: load sample set: %w", err)
	}

	var candidates []Candidate
	if set == nil || set.Dim != len(query) || len(set.Vectors) < SampleCount {
		candidates, err = ix.src.AllVectors(ctx, docIDs)
		if err != nil {
			return nil, fmt.Errorf("index: full scan: %w", err)
		}
		ix.log.Debug("index: full scan fallback", slog.Int("candidates", len(candidates)))
	} else {
		candidates, err = ix.narrow(ctx, query, set, docIDs)
		if err != nil {
			return nil, err
		}
	}

	if ix.opts.Memory != nil {
		candidates = overlayResident(candidates, ix.opts.Memory.UnpersistedVectors(docIDs))
	}

	return refine(query, candidates, topK, threshold), nil
}

// overlayResident merges unpersisted in-process vectors into the candidate
// set. For a document with unpersisted rows the in-process copy is
// authoritative; any persisted candidates for it are dropped so a half-stale
// row can never shadow the fresh embedding.
func overlayResident(persisted, resident []Candidate) []Candidate {
	if len(resident) == 0 {
		return persisted
	}
	docs := make(map[string]bool, len(resident))
	for _, c := range resident {
		docs[c.DocumentID] = true
	}
	out := make([]Candidate, 0, len(persisted)+len(resident))
	for _, c := range persisted {
		if !docs[c.DocumentID] {
			out = append(out, c)
		}
	}
	return append(out, resident...)
}

// narrow runs one range query per sample and combines the candidate sets.
func (ix *Index) narrow(ctx context.Context, query []float32, set *SampleSet, docIDs []string) ([]Candidate, error) {
	type hit struct {
		cand Candidate
		seen int
	}
	merged := make(map[string]*hit)

	for i, sample := range set.Vectors {
		d := vectormath.Euclidean(query, sample)
		lo := EncodeDistance(d - ix.opts.Tolerance)
		hi := EncodeDistance(d + ix.opts.Tolerance)

		cands, err := ix.src.CandidatesInRange(ctx, i, set.Version, lo, hi, docIDs)
		if err != nil {
			return nil, fmt.Errorf("index: range query for sample %d: %w", i, err)
		}
		for _, c := range cands {
			key := fmt.Sprintf("%s#%d", c.DocumentID, c.ChunkIndex)
			if h, ok := merged[key]; ok {
				h.seen++
			} else {
				merged[key] = &hit{cand: c, seen: 1}
			}
		}
	}

	need := 1
	if ix.opts.Combine == CombineIntersect {
		need = len(set.Vectors)
	}
	out := make([]Candidate, 0, len(merged))
	for _, h := range merged {
		if h.seen >= need {
			out = append(out, h.cand)
		}
	}
	ix.log.Debug("index: narrowed candidates",
		slog.Int("candidates", len(out)),
		slog.String("combine", string(ix.opts.Combine)),
	)
	return out, nil
}

// refine computes exact cosine similarity for every candidate, filters by
// threshold, and returns the topK highest-scoring results in descending
// order. Ties break on (document, chunk) for deterministic output.
func refine(query []float32, candidates []Candidate, topK int, threshold float64) []Result {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			continue
		}
		score := vectormath.Cosine(query, c.Vector)
		if score < threshold {
			continue
		}
		results = append(results, Result{Candidate: c, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
