package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Activate marks the document as retrievable from the given session.
// Idempotent: activating an already-active pair is a no-op, never a
// duplicate. Returns ErrNotFound when the document does not exist.
func (s *Store) Activate(ctx context.Context, documentID, sessionID string) error {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return err
	}
	const q = `
INSERT OR IGNORE INTO document_sessions (document_id, session_id, activated_at)
VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, documentID, sessionID, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: activate %s in %s: %w", documentID, sessionID, err)
	}
	return nil
}

// Deactivate removes the session from the document's active set. When the
// last session deactivates a non-persistent document the document is
// orphaned and its embeddings are deleted immediately; they are regenerable
// from content, and an orphan holds no claim on cache space. Persistent
// (owner-library) documents keep their embeddings regardless of activation.
func (s *Store) Deactivate(ctx context.Context, documentID, sessionID string) error {
	return s.execTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM document_sessions WHERE document_id = ? AND session_id = ?`,
			documentID, sessionID); err != nil {
			return fmt.Errorf("store: deactivate %s in %s: %w", documentID, sessionID, err)
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM document_sessions WHERE document_id = ?`,
			documentID).Scan(&remaining); err != nil {
			return fmt.Errorf("store: count sessions for %s: %w", documentID, err)
		}
		if remaining > 0 {
			return nil
		}

		var persistent int
		err := tx.QueryRowContext(ctx,
			`SELECT persistent FROM documents WHERE id = ?`, documentID).Scan(&persistent)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: check persistence of %s: %w", documentID, err)
		}
		if persistent != 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("store: drop embeddings for orphan %s: %w", documentID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET chunk_count = 0 WHERE id = ?`, documentID); err != nil {
			return fmt.Errorf("store: reset chunk count for %s: %w", documentID, err)
		}
		return nil
	})
}

// ActiveSessions returns the sessions the document is currently active in.
func (s *Store) ActiveSessions(ctx context.Context, documentID string) ([]string, error) {
	const q = `
SELECT session_id FROM document_sessions
WHERE  document_id = ?
ORDER  BY activated_at ASC, session_id ASC`
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: active sessions for %s: %w", documentID, err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: session rows: %w", err)
	}
	return sessions, nil
}

// SweepOrphans deletes every non-persistent document with no active sessions,
// together with any remaining embeddings, and returns how many documents were
// removed.
func (s *Store) SweepOrphans(ctx context.Context) (int, error) {
	removed := 0
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id FROM documents
WHERE  persistent = 0
AND    id NOT IN (SELECT DISTINCT document_id FROM document_sessions)`)
		if err != nil {
			return fmt.Errorf("store: find orphans: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan orphan: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("store: orphan rows: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE document_id = ?`, id); err != nil {
				return fmt.Errorf("store: sweep embeddings for %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
				return fmt.Errorf("store: sweep document %s: %w", id, err)
			}
		}
		removed = len(ids)
		return nil
	})
	return removed, err
}
