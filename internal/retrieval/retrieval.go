// Package retrieval is the orchestration layer exposed to the chat
// subsystem. It selects between keyword and vector strategies, executes the
// retrieval, and formats a bounded context string for prompt injection.
// All internal failures are absorbed at the ContextForLLM boundary: the chat
// layer receives a context string or nothing, never a raw error.
package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/docwell-ai/ragcore/internal/index"
	"github.com/docwell-ai/ragcore/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeKeyword scores whole documents by query token overlap. Requires no
	// embeddings; the degraded-but-always-available strategy.
	ModeKeyword Mode = "keyword"
	// ModeVector ranks chunks by embedding similarity through the
	// distance-to-samples index.
	ModeVector Mode = "vector"
)

// Default retrieval parameters.
const (
	// DefaultTopK is the number of results returned when the caller passes 0.
	DefaultTopK = 5
	// DefaultThreshold is the minimum cosine similarity for vector results.
	DefaultThreshold = 0.3
	// DefaultMaxContextChars bounds the formatted context string.
	DefaultMaxContextChars = 4000
)

// ErrCrossSessionDenied is returned when a caller requests documents from
// other sessions without the cross-session capability.
var ErrCrossSessionDenied = errors.New("retrieval: cross-session selection not permitted")

// Options are per-request retrieval parameters.
type Options struct {
	// TopK is the maximum number of results. Zero selects DefaultTopK.
	TopK int
	// Threshold is the minimum similarity for vector results. Zero selects
	// DefaultThreshold.
	Threshold float64
	// MaxContextChars bounds the formatted context string. Zero selects
	// DefaultMaxContextChars.
	MaxContextChars int
	// Authoritative selects the strict-grounding context wrapper. It changes
	// only the instructions around the excerpts, never the ranking.
	Authoritative bool
	// CrossSessions names additional sessions whose active documents should
	// be searched. Requires the cross-session capability; rejected
	// explicitly otherwise.
	CrossSessions []string
}

// resolve applies defaults.
func (o Options) resolve() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = DefaultMaxContextChars
	}
	return o
}

// ScoredChunk is one vector-mode result.
type ScoredChunk struct {
	// DocumentID identifies the source document.
	DocumentID string
	// ChunkIndex is the chunk ordinal within the document.
	ChunkIndex int
	// Text is the chunk content.
	Text string
	// Score is the cosine similarity to the query.
	Score float64
}

// ScoredDocument is one keyword-mode result: a whole document, not a chunk.
type ScoredDocument struct {
	// Document is the matched document.
	Document store.Document
	// Score is the keyword match score (distinct tokens plus recency bonus).
	Score float64
}

// Result is the outcome of one retrieval request.
type Result struct {
	// Mode is the strategy that produced the result.
	Mode Mode
	// Query is the original query text.
	Query string
	// Chunks holds vector-mode results, best first. Nil in keyword mode.
	Chunks []ScoredChunk
	// Documents holds keyword-mode results, best first. Nil in vector mode.
	Documents []ScoredDocument
	// Latency is the wall-clock duration of the retrieval.
	Latency time.Duration
}

// Empty reports whether the retrieval produced no results.
func (r *Result) Empty() bool {
	return len(r.Chunks) == 0 && len(r.Documents) == 0
}

// Store is the document surface the manager needs. *store.Store satisfies it.
type Store interface {
	ListActive(ctx context.Context, sessionID string) ([]store.Document, error)
	TouchDocument(ctx context.Context, id string) error
}

// Cache guarantees embedding residency for a session's active documents.
// *cache.Manager satisfies it.
type Cache interface {
	EnsureEmbeddings(ctx context.Context, sessionID string) error
}

// Embedder embeds the query text. *embedder.Engine satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, isQuery bool) ([]float32, error)
}

// Searcher runs the approximate vector search. *index.Index satisfies it.
type Searcher interface {
	Search(ctx context.Context, query []float32, docIDs []string, topK int, threshold float64) ([]index.Result, error)
}
