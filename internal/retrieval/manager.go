package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docwell-ai/ragcore/internal/events"
	"github.com/docwell-ai/ragcore/internal/store"
)

// Config holds manager-level settings.
type Config struct {
	// AllowCrossSession grants the capability to search other sessions'
	// active documents. Off by default; tied to subscription tier by the
	// caller.
	AllowCrossSession bool
}

// Manager orchestrates retrieval for the chat subsystem.
type Manager struct {
	store   Store
	cache   Cache
	engine  Embedder
	index   Searcher
	cfg     Config
	metrics *retrievalMetrics
	emitter events.Emitter
	log     *slog.Logger
}

// New constructs a Manager from its collaborators. reg receives the
// retrieval metrics; pass a fresh registry in tests.
func New(st Store, cache Cache, engine Embedder, searcher Searcher, cfg Config,
	emitter events.Emitter, reg prometheus.Registerer, log *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("retrieval: store must not be nil")
	}
	if cache == nil {
		return nil, fmt.Errorf("retrieval: cache must not be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("retrieval: engine must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("retrieval: searcher must not be nil")
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:   st,
		cache:   cache,
		engine:  engine,
		index:   searcher,
		cfg:     cfg,
		metrics: newRetrievalMetrics(reg),
		emitter: emitter,
		log:     log,
	}, nil
}

// Retrieve executes one retrieval request. An empty corpus yields an empty
// result with near-zero latency, not an error. Vector-mode encoder failures
// are returned to the caller (with a recorded metric) so it can degrade to
// keyword mode; ContextForLLM performs that fallback automatically.
func (m *Manager) Retrieve(ctx context.Context, sessionID, query string, mode Mode, opts Options) (*Result, error) {
	opts = opts.resolve()
	started := time.Now()

	var (
		result *Result
		err    error
	)
	switch mode {
	case ModeKeyword:
		result, err = m.retrieveKeyword(ctx, sessionID, query, opts)
	case ModeVector:
		result, err = m.retrieveSemantic(ctx, sessionID, query, opts)
	default:
		return nil, fmt.Errorf("retrieval: unknown mode %q", mode)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.metrics.requests.WithLabelValues(string(mode), outcome).Inc()
	m.metrics.duration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	result.Latency = time.Since(started)
	m.emitter.Emit(events.Event{
		Type:      events.TypeRetrieval,
		SessionID: sessionID,
		Value: map[string]any{
			"mode":       string(mode),
			"results":    len(result.Chunks) + len(result.Documents),
			"latency_ms": result.Latency.Milliseconds(),
		},
	})
	m.touchResults(ctx, result)
	return result, nil
}

// retrieveSemantic runs vector mode: ensure residency, embed the query with
// the query role, search the index over the visible documents, and keep
// chunks above the similarity threshold.
func (m *Manager) retrieveSemantic(ctx context.Context, sessionID, query string, opts Options) (*Result, error) {
	docs, err := m.visibleDocuments(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}
	result := &Result{Mode: ModeVector, Query: query}
	if len(docs) == 0 {
		return result, nil
	}
	docIDs := make([]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
	}

	if err := m.cache.EnsureEmbeddings(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("retrieval: ensure embeddings: %w", err)
	}

	queryVec, err := m.engine.Embed(ctx, query, true)
	if err != nil {
		m.metrics.encoderFailures.Inc()
		m.emitter.Emit(events.Event{
			Type: events.TypeError, SessionID: sessionID,
			Value: map[string]any{"error": err.Error(), "stage": "embed_query"},
		})
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	hits, err := m.index.Search(ctx, queryVec, docIDs, opts.TopK, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieval: index search: %w", err)
	}
	for _, h := range hits {
		result.Chunks = append(result.Chunks, ScoredChunk{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Text:       h.Text,
			Score:      h.Score,
		})
	}
	return result, nil
}

// visibleDocuments resolves the document set for a request: the session's
// active documents, plus other sessions' when the cross-session capability
// allows it. The capability is an explicit check, never a query side effect.
// A document active in more than one searched session appears once.
func (m *Manager) visibleDocuments(ctx context.Context, sessionID string, opts Options) ([]store.Document, error) {
	if len(opts.CrossSessions) > 0 && !m.cfg.AllowCrossSession {
		return nil, ErrCrossSessionDenied
	}

	seen := make(map[string]bool)
	var out []store.Document
	for _, sid := range append([]string{sessionID}, opts.CrossSessions...) {
		docs, err := m.store.ListActive(ctx, sid)
		if err != nil {
			return nil, fmt.Errorf("retrieval: list active documents: %w", err)
		}
		for _, d := range docs {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// touchResults bumps access metadata for returned documents. Best effort:
// a failed touch never affects the result.
func (m *Manager) touchResults(ctx context.Context, result *Result) {
	seen := make(map[string]bool)
	for _, c := range result.Chunks {
		seen[c.DocumentID] = true
	}
	for _, d := range result.Documents {
		seen[d.Document.ID] = true
	}
	for id := range seen {
		if err := m.store.TouchDocument(ctx, id); err != nil {
			m.log.Debug("retrieval: touch failed", slog.String("document_id", id))
		}
	}
}
