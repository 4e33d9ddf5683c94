// Package store provides the SQLite-backed persisted tier of the retrieval
// core: documents, their per-chunk vector embeddings (with the sortable
// distance-to-samples columns the approximate index range-queries against),
// versioned sample sets, and the many-to-many document/session activation
// relation. Everything lives in one local database file; use ":memory:" in
// tests.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// Store owns the database connection pool. Safe for concurrent use; writes
// are serialised through a single connection to avoid SQLITE_BUSY.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the retrieval database.
// It resolves to ~/.ragcore/ragcore.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragcore")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "ragcore.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist. The d0..d4 columns
// hold fixed-width sortable encodings of each vector's distance to the five
// sample vectors; their B-tree indexes are what the approximate index
// range-queries against.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id               TEXT    PRIMARY KEY,
    owner_id         TEXT    NOT NULL,
    origin_session   TEXT    NOT NULL,
    content          TEXT    NOT NULL,
    chunk_count      INTEGER NOT NULL DEFAULT 0,
    size_bytes       INTEGER NOT NULL DEFAULT 0,
    access_count     INTEGER NOT NULL DEFAULT 0,
    last_accessed_at INTEGER NOT NULL,  -- Unix timestamp (seconds)
    persistent       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS document_sessions (
    document_id  TEXT    NOT NULL,
    session_id   TEXT    NOT NULL,
    activated_at INTEGER NOT NULL,
    PRIMARY KEY (document_id, session_id)
);
CREATE INDEX IF NOT EXISTS idx_document_sessions_session
    ON document_sessions (session_id);
CREATE TABLE IF NOT EXISTS embeddings (
    document_id    TEXT    NOT NULL,
    chunk_index    INTEGER NOT NULL,
    session_id     TEXT    NOT NULL DEFAULT '',
    text           TEXT    NOT NULL,
    vector         BLOB    NOT NULL,
    dim            INTEGER NOT NULL,
    sample_version INTEGER NOT NULL DEFAULT 0,
    d0 TEXT NOT NULL DEFAULT '',
    d1 TEXT NOT NULL DEFAULT '',
    d2 TEXT NOT NULL DEFAULT '',
    d3 TEXT NOT NULL DEFAULT '',
    d4 TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_d0 ON embeddings (sample_version, d0);
CREATE INDEX IF NOT EXISTS idx_embeddings_d1 ON embeddings (sample_version, d1);
CREATE INDEX IF NOT EXISTS idx_embeddings_d2 ON embeddings (sample_version, d2);
CREATE INDEX IF NOT EXISTS idx_embeddings_d3 ON embeddings (sample_version, d3);
CREATE INDEX IF NOT EXISTS idx_embeddings_d4 ON embeddings (sample_version, d4);
CREATE TABLE IF NOT EXISTS sample_sets (
    version     INTEGER PRIMARY KEY AUTOINCREMENT,
    vectors     BLOB    NOT NULL,
    dim         INTEGER NOT NULL,
    corpus_size INTEGER NOT NULL,
    created_at  INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector serialises v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector deserialises a little-endian float32 blob.
func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("store: vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

// inPlaceholders builds a "(?, ?, ...)" fragment and the matching args slice
// for an IN clause over ids.
func inPlaceholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	q := "("
	for i, id := range ids {
		if i > 0 {
			q += ", "
		}
		q += "?"
		args[i] = id
	}
	return q + ")", args
}

// execTx runs fn inside a transaction, rolling back on error.
func (s *Store) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
