package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docwell-ai/ragcore/internal/index"
	"github.com/docwell-ai/ragcore/internal/vectormath"
)

// Embedding is one persisted chunk embedding. Created once by the cache
// layer on a miss, never mutated, deleted with its owning document.
type Embedding struct {
	// DocumentID identifies the owning document.
	DocumentID string
	// ChunkIndex is the chunk ordinal within the document.
	ChunkIndex int
	// SessionID records which session triggered generation. Provenance only,
	// never an access-control field.
	SessionID string
	// Text is the denormalised chunk text.
	Text string
	// Vector is the L2-normalised embedding.
	Vector []float32
	// SampleVersion is the sample set the stored distances were encoded
	// against; 0 when no set existed at save time.
	SampleVersion int
	// Distances holds the distance to each sample vector. Populated by the
	// store at save time; zero when SampleVersion is 0.
	Distances [index.SampleCount]float64
}

// SaveEmbeddings persists a batch of embeddings for one or more documents.
// Every vector is validated at this boundary; NaN, Inf, and empty vectors
// are rejected and nothing is written. Distances to the current sample set
// are computed and encoded here, each document's chunk_count is updated to
// match its stored rows, and the sample reselection policy runs afterwards.
func (s *Store) SaveEmbeddings(ctx context.Context, rows []Embedding) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if err := vectormath.Validate(rows[i].Vector, 0); err != nil {
			return fmt.Errorf("store: embedding %s#%d: %w", rows[i].DocumentID, rows[i].ChunkIndex, err)
		}
	}

	err := s.execTx(ctx, func(tx *sql.Tx) error {
		// The sample set is resolved inside the transaction: a concurrent
		// reselection slipping between the read and these inserts would
		// strand the rows on a superseded version that version-scoped range
		// queries never match.
		set, err := currentSampleSet(ctx, tx)
		if err != nil {
			return err
		}

		const q = `
INSERT OR REPLACE INTO embeddings
    (document_id, chunk_index, session_id, text, vector, dim, sample_version, d0, d1, d2, d3, d4)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		perDoc := make(map[string]int)
		for i := range rows {
			r := &rows[i]
			var enc [index.SampleCount]string
			if set != nil && set.Dim == len(r.Vector) {
				r.SampleVersion = set.Version
				for j, sample := range set.Vectors {
					r.Distances[j] = vectormath.Euclidean(r.Vector, sample)
					enc[j] = index.EncodeDistance(r.Distances[j])
				}
			}
			if _, err := tx.ExecContext(ctx, q,
				r.DocumentID, r.ChunkIndex, r.SessionID, r.Text,
				encodeVector(r.Vector), len(r.Vector), r.SampleVersion,
				enc[0], enc[1], enc[2], enc[3], enc[4]); err != nil {
				return fmt.Errorf("store: save embedding %s#%d: %w", r.DocumentID, r.ChunkIndex, err)
			}
			perDoc[r.DocumentID]++
		}

		// chunk_count must agree with the stored rows for the complete-set
		// check the cache layer performs.
		for docID := range perDoc {
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM embeddings WHERE document_id = ?`, docID).Scan(&n); err != nil {
				return fmt.Errorf("store: count embeddings for %s: %w", docID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE documents SET chunk_count = ? WHERE id = ?`, n, docID); err != nil {
				return fmt.Errorf("store: update chunk count for %s: %w", docID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.maybeReselectSamples(ctx)
}

// LoadEmbeddings returns every stored embedding for the document, ordered by
// chunk index. Used by the cache layer to rebuild the memory tier verbatim
// after a restart; no re-embedding.
func (s *Store) LoadEmbeddings(ctx context.Context, documentID string) ([]Embedding, error) {
	const q = `
SELECT document_id, chunk_index, session_id, text, vector, sample_version
FROM   embeddings
WHERE  document_id = ?
ORDER  BY chunk_index ASC`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: load embeddings for %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		if err := rows.Scan(&e.DocumentID, &e.ChunkIndex, &e.SessionID, &e.Text, &blob, &e.SampleVersion); err != nil {
			return nil, fmt.Errorf("store: scan embedding: %w", err)
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: embedding rows: %w", err)
	}
	return out, nil
}

// HasCompleteEmbeddings reports whether a complete set of embeddings exists
// for the document: a positive expected chunk count that matches the stored
// row count exactly.
func (s *Store) HasCompleteEmbeddings(ctx context.Context, documentID string, chunkCount int) (bool, error) {
	if chunkCount <= 0 {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: count embeddings for %s: %w", documentID, err)
	}
	return n == chunkCount, nil
}

// DeleteEmbeddings removes every embedding for the document.
func (s *Store) DeleteEmbeddings(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: delete embeddings for %s: %w", documentID, err)
	}
	return nil
}

// CountEmbeddings returns the total number of stored embeddings.
func (s *Store) CountEmbeddings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count embeddings: %w", err)
	}
	return n, nil
}

// distanceColumn maps a sample ordinal to its column name. The switch keeps
// column names out of query interpolation.
func distanceColumn(sample int) (string, error) {
	switch sample {
	case 0:
		return "d0", nil
	case 1:
		return "d1", nil
	case 2:
		return "d2", nil
	case 3:
		return "d3", nil
	case 4:
		return "d4", nil
	default:
		return "", fmt.Errorf("store: sample ordinal %d out of range", sample)
	}
}

// CandidatesInRange implements index.Source: an indexed range query over one
// sample's encoded distance column, version-scoped and restricted to docIDs.
func (s *Store) CandidatesInRange(ctx context.Context, sample, version int, lo, hi string, docIDs []string) ([]index.Candidate, error) {
	if len(docIDs) == 0 {
		return nil, nil
	}
	col, err := distanceColumn(sample)
	if err != nil {
		return nil, err
	}
	in, inArgs := inPlaceholders(docIDs)
	q := fmt.Sprintf(`
SELECT document_id, chunk_index, text, vector
FROM   embeddings
WHERE  sample_version = ? AND %s BETWEEN ? AND ? AND document_id IN %s`, col, in)

	args := append([]any{version, lo, hi}, inArgs...)
	return queryCandidates(ctx, s.db, q, args...)
}

// AllVectors implements index.Source: every stored vector for the given
// documents, or the whole corpus when docIDs is nil. Used for the full-scan
// fallback and for sample selection.
func (s *Store) AllVectors(ctx context.Context, docIDs []string) ([]index.Candidate, error) {
	q := `SELECT document_id, chunk_index, text, vector FROM embeddings`
	var args []any
	if docIDs != nil {
		if len(docIDs) == 0 {
			return nil, nil
		}
		in, inArgs := inPlaceholders(docIDs)
		q += ` WHERE document_id IN ` + in
		args = inArgs
	}
	return queryCandidates(ctx, s.db, q, args...)
}

// querier is the multi-row query surface shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryCandidates runs a candidate query and decodes the vector blobs.
func queryCandidates(ctx context.Context, db querier, q string, args ...any) ([]index.Candidate, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query candidates: %w", err)
	}
	defer rows.Close()

	var out []index.Candidate
	for rows.Next() {
		var c index.Candidate
		var blob []byte
		if err := rows.Scan(&c.DocumentID, &c.ChunkIndex, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("store: scan candidate: %w", err)
		}
		if c.Vector, err = decodeVector(blob); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: candidate rows: %w", err)
	}
	return out, nil
}
