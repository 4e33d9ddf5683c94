package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Document is an uploaded document as tracked by the persisted store. A
// document physically exists once, belongs to one owner, and is independently
// active in zero or more sessions.
type Document struct {
	// ID uniquely identifies the document.
	ID string
	// OwnerID is the owning user.
	OwnerID string
	// OriginSession is the session the document was first uploaded in.
	// Provenance only; activation is tracked separately.
	OriginSession string
	// Content is the full extracted text.
	Content string
	// ChunkCount is the number of embedded chunks, 0 until embeddings exist.
	ChunkCount int
	// SizeBytes is the content size at upload time.
	SizeBytes int
	// AccessCount counts retrievals that touched this document.
	AccessCount int
	// LastAccessedAt is when the document was last retrieved or stored.
	LastAccessedAt time.Time
	// Persistent marks the owner-level library pool: the document survives
	// orphaning (no active sessions) and is never garbage collected.
	Persistent bool
}

const documentColumns = `id, owner_id, origin_session, content, chunk_count, size_bytes, access_count, last_accessed_at, persistent`

// PutDocument inserts or replaces a document row. A zero LastAccessedAt is
// set to the current time.
func (s *Store) PutDocument(ctx context.Context, d *Document) error {
	if d.ID == "" {
		return fmt.Errorf("store: document id must not be empty")
	}
	last := d.LastAccessedAt
	if last.IsZero() {
		last = time.Now()
	}
	const q = `
INSERT OR REPLACE INTO documents (` + documentColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		d.ID, d.OwnerID, d.OriginSession, d.Content, d.ChunkCount,
		d.SizeBytes, d.AccessCount, last.Unix(), boolInt(d.Persistent))
	if err != nil {
		return fmt.Errorf("store: put document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`
	d, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: document %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("store: get document %s: %w", id, err)
	}
	return d, nil
}

// ListActive returns the documents currently activated in the given session,
// oldest activation first.
func (s *Store) ListActive(ctx context.Context, sessionID string) ([]Document, error) {
	const q = `
SELECT ` + prefixedDocumentColumns + `
FROM   documents d
JOIN   document_sessions ds ON ds.document_id = d.id
WHERE  ds.session_id = ?
ORDER  BY ds.activated_at ASC, d.id ASC`
	return s.queryDocuments(ctx, q, sessionID)
}

// ListOwned returns every document belonging to owner, most recently
// accessed first.
func (s *Store) ListOwned(ctx context.Context, ownerID string) ([]Document, error) {
	const q = `
SELECT ` + documentColumns + `
FROM   documents
WHERE  owner_id = ?
ORDER  BY last_accessed_at DESC, id ASC`
	return s.queryDocuments(ctx, q, ownerID)
}

// TouchDocument bumps the access counter and last-accessed timestamp.
func (s *Store) TouchDocument(ctx context.Context, id string) error {
	const q = `
UPDATE documents
SET    access_count = access_count + 1, last_accessed_at = ?
WHERE  id = ?`
	if _, err := s.db.ExecContext(ctx, q, time.Now().Unix(), id); err != nil {
		return fmt.Errorf("store: touch document %s: %w", id, err)
	}
	return nil
}

// DeleteDocument removes a document together with its embeddings and
// activation rows.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM embeddings WHERE document_id = ?`,
			`DELETE FROM document_sessions WHERE document_id = ?`,
			`DELETE FROM documents WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("store: delete document %s: %w", id, err)
			}
		}
		return nil
	})
}

// prefixedDocumentColumns qualifies documentColumns with the "d." alias for
// joined queries.
const prefixedDocumentColumns = `d.id, d.owner_id, d.origin_session, d.content, d.chunk_count, d.size_bytes, d.access_count, d.last_accessed_at, d.persistent`

// rowScanner abstracts *sql.Row and *sql.Rows for scanDocument.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one document row.
func scanDocument(r rowScanner) (*Document, error) {
	var d Document
	var last int64
	var persistent int
	if err := r.Scan(&d.ID, &d.OwnerID, &d.OriginSession, &d.Content,
		&d.ChunkCount, &d.SizeBytes, &d.AccessCount, &last, &persistent); err != nil {
		return nil, err
	}
	d.LastAccessedAt = time.Unix(last, 0)
	d.Persistent = persistent != 0
	return &d, nil
}

// queryDocuments runs a document query and scans all rows.
func (s *Store) queryDocuments(ctx context.Context, q string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: document rows: %w", err)
	}
	return docs, nil
}

// boolInt converts a bool to its SQLite integer representation.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
