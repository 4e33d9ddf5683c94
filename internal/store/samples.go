package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docwell-ai/ragcore/internal/index"
	"github.com/docwell-ai/ragcore/internal/vectormath"
)

// rowQuerier is the single-row query surface shared by *sql.DB and *sql.Tx,
// so the current sample set can be resolved inside a write transaction.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CurrentSampleSet implements index.Source: it returns the newest sample set,
// or nil when none has been selected yet.
func (s *Store) CurrentSampleSet(ctx context.Context) (*index.SampleSet, error) {
	return currentSampleSet(ctx, s.db)
}

// currentSampleSet reads the newest sample set through the given querier.
func currentSampleSet(ctx context.Context, q rowQuerier) (*index.SampleSet, error) {
	const query = `
SELECT version, vectors, dim, corpus_size
FROM   sample_sets
ORDER  BY version DESC
LIMIT  1`
	var set index.SampleSet
	var blob []byte
	err := q.QueryRowContext(ctx, query).Scan(&set.Version, &blob, &set.Dim, &set.CorpusSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: current sample set: %w", err)
	}
	if set.Vectors, err = decodeSampleVectors(blob, set.Dim); err != nil {
		return nil, err
	}
	return &set, nil
}

// maybeReselectSamples applies the reselection policy after a write:
//   - no sample set yet and the corpus has reached index.MinCorpusForSampling
//   - or the corpus has doubled since the current set was selected.
//
// Reselection invalidates the comparability of previously encoded distances,
// so every stored row is re-encoded against the new set in the same
// transaction that records it; an O(n·K) pass over the corpus. Stale
// versions are never queried (range lookups are version-scoped), so a crash
// between selection and re-encode degrades to a full scan, not wrong results.
func (s *Store) maybeReselectSamples(ctx context.Context) error {
	total, err := s.CountEmbeddings(ctx)
	if err != nil {
		return err
	}
	cur, err := s.CurrentSampleSet(ctx)
	if err != nil {
		return err
	}

	switch {
	case cur == nil && total >= index.MinCorpusForSampling:
	case cur != nil && total >= 2*cur.CorpusSize:
	default:
		return nil
	}

	return s.execTx(ctx, func(tx *sql.Tx) error {
		// The corpus is re-read inside the transaction so the new set and the
		// re-encoded rows cover exactly the rows visible at commit; a row a
		// sibling writer commits after the threshold check above cannot be
		// left behind on the old version.
		all, err := queryCandidates(ctx, tx,
			`SELECT document_id, chunk_index, text, vector FROM embeddings`)
		if err != nil {
			return err
		}
		vectors := make([][]float32, len(all))
		for i, c := range all {
			vectors[i] = c.Vector
		}
		samples := index.SelectSamples(vectors, index.SampleCount)
		if len(samples) < index.SampleCount {
			// Fewer than SampleCount distinct vectors: keep scanning linearly.
			return nil
		}
		dim := len(samples[0])

		res, err := tx.ExecContext(ctx,
			`INSERT INTO sample_sets (vectors, dim, corpus_size, created_at) VALUES (?, ?, ?, ?)`,
			encodeSampleVectors(samples), dim, len(all), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("store: save sample set: %w", err)
		}
		version64, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: sample set version: %w", err)
		}
		version := int(version64)

		for _, c := range all {
			if len(c.Vector) != dim {
				continue
			}
			var enc [index.SampleCount]string
			for j, sample := range samples {
				enc[j] = index.EncodeDistance(vectormath.Euclidean(c.Vector, sample))
			}
			if _, err := tx.ExecContext(ctx, `
UPDATE embeddings
SET    sample_version = ?, d0 = ?, d1 = ?, d2 = ?, d3 = ?, d4 = ?
WHERE  document_id = ? AND chunk_index = ?`,
				version, enc[0], enc[1], enc[2], enc[3], enc[4],
				c.DocumentID, c.ChunkIndex); err != nil {
				return fmt.Errorf("store: re-encode %s#%d: %w", c.DocumentID, c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// encodeSampleVectors serialises the sample vectors as one concatenated blob.
func encodeSampleVectors(vectors [][]float32) []byte {
	var buf []byte
	for _, v := range vectors {
		buf = append(buf, encodeVector(v)...)
	}
	return buf
}

// decodeSampleVectors splits a concatenated blob back into dim-length vectors.
func decodeSampleVectors(blob []byte, dim int) ([][]float32, error) {
	if dim <= 0 || len(blob)%(4*dim) != 0 {
		return nil, fmt.Errorf("store: sample blob length %d does not divide into dim-%d vectors", len(blob), dim)
	}
	all, err := decodeVector(blob)
	if err != nil {
		return nil, err
	}
	n := len(all) / dim
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		out[i] = all[i*dim : (i+1)*dim]
	}
	return out, nil
}
