// Package cache implements the tiered embedding cache: an in-process LRU
// memory tier, the persisted SQLite tier, and on-demand generation. After
// EnsureEmbeddings returns, every active document's vectors are resident in
// memory; each document is embedded at most once per process lifetime and
// never re-embedded after a restart when persisted rows exist.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/docwell-ai/ragcore/internal/chunker"
	"github.com/docwell-ai/ragcore/internal/events"
	"github.com/docwell-ai/ragcore/internal/index"
	"github.com/docwell-ai/ragcore/internal/store"
)

// Defaults for the cache configuration.
const (
	// DefaultMemoryEntries bounds the memory tier. Each entry holds one
	// document's chunk texts and vectors.
	DefaultMemoryEntries = 256
	// DefaultBatchSize is how many missing documents are embedded before the
	// manager yields. Small on purpose: a large upload must not monopolise
	// the process for more than a bounded slice.
	DefaultBatchSize = 3
	// DefaultYield is the pause between generation batches. This is a
	// scheduling contract, not an optimisation; it keeps the host
	// responsive while a backlog is embedded.
	DefaultYield = 50 * time.Millisecond
)

// Entry is one document's embeddings resident in the memory tier. Ephemeral:
// rebuilt from the persisted tier after a restart, never itself persisted.
type Entry struct {
	// DocumentID identifies the document.
	DocumentID string
	// Vectors holds one L2-normalised embedding per chunk.
	Vectors [][]float32
	// Chunks holds the chunk texts, parallel to Vectors.
	Chunks []string
	// LoadedAt is when this entry entered the memory tier.
	LoadedAt time.Time
}

// Store is the persisted-tier surface the manager needs. *store.Store
// satisfies it.
type Store interface {
	ListActive(ctx context.Context, sessionID string) ([]store.Document, error)
	HasCompleteEmbeddings(ctx context.Context, documentID string, chunkCount int) (bool, error)
	LoadEmbeddings(ctx context.Context, documentID string) ([]store.Embedding, error)
	SaveEmbeddings(ctx context.Context, rows []store.Embedding) error
}

// Embedder is the generation surface the manager needs. *embedder.Engine
// satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error)
}

// Config holds the cache manager settings.
type Config struct {
	// MemoryEntries bounds the LRU memory tier. Zero selects
	// DefaultMemoryEntries.
	MemoryEntries int
	// BatchSize is the number of documents embedded per generation batch.
	// Zero selects DefaultBatchSize.
	BatchSize int
	// Yield is the cooperative pause between generation batches. Zero
	// selects DefaultYield.
	Yield time.Duration
	// Chunking holds the chunking parameters used at generation time.
	Chunking chunker.Options
}

// Manager coordinates the three tiers. Constructed once per process with
// explicit lifecycle (Close waits for in-flight persistence); cache state is
// owned here, never ambient.
type Manager struct {
	mem     *lru.Cache[string, *Entry]
	store   Store
	engine  Embedder
	cfg     Config
	limiter *rate.Limiter
	group   singleflight.Group
	emitter events.Emitter
	metrics *cacheMetrics
	log     *slog.Logger

	// persistWG tracks background persistence so Close can drain it.
	persistWG sync.WaitGroup

	// pendingMu guards pending: rows generated this process whose background
	// write has not yet committed. The vector index overlays these so a fresh
	// document is searchable before its rows reach the persisted tier.
	pendingMu sync.Mutex
	pending   map[string][]store.Embedding
}

// New constructs a Manager. reg receives the cache metrics; pass a fresh
// registry in tests to stay hermetic.
func New(st Store, engine Embedder, cfg Config, emitter events.Emitter, reg prometheus.Registerer, log *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("cache: store must not be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("cache: engine must not be nil")
	}
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = DefaultMemoryEntries
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Yield <= 0 {
		cfg.Yield = DefaultYield
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}

	mem, err := lru.New[string, *Entry](cfg.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: create memory tier: %w", err)
	}

	return &Manager{
		mem:     mem,
		store:   st,
		engine:  engine,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Yield), 1),
		emitter: emitter,
		metrics: newCacheMetrics(reg),
		log:     log,
		pending: make(map[string][]store.Embedding),
	}, nil
}

// Get returns the memory-tier entry for a document, if resident.
func (m *Manager) Get(documentID string) (*Entry, bool) {
	return m.mem.Get(documentID)
}

// Invalidate drops a document from the memory tier, including any rows still
// awaiting persistence.
func (m *Manager) Invalidate(documentID string) {
	m.mem.Remove(documentID)
	m.pendingMu.Lock()
	delete(m.pending, documentID)
	m.pendingMu.Unlock()
}

// UnpersistedVectors implements index.Memory: the embeddings generated this
// process whose background write has not yet committed, restricted to docIDs.
// Searching only the persisted tier would miss a document during the window
// between generation and commit; the index overlays these to close it.
func (m *Manager) UnpersistedVectors(docIDs []string) []index.Candidate {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	var out []index.Candidate
	for _, id := range docIDs {
		for _, r := range m.pending[id] {
			out = append(out, index.Candidate{
				DocumentID: r.DocumentID,
				ChunkIndex: r.ChunkIndex,
				Text:       r.Text,
				Vector:     r.Vector,
			})
		}
	}
	return out
}

// EnsureEmbeddings guarantees that after it returns, every document active in
// the session has its embeddings resident in the memory tier; looked up in
// memory first, then the persisted store, then generated. Documents are
// processed as an unordered set; a single document's failure is recorded and
// skipped, never propagated to siblings. The only returned errors are
// listing failures and caller cancellation, checked at the delivery boundary.
func (m *Manager) EnsureEmbeddings(ctx context.Context, sessionID string) error {
	docs, err := m.store.ListActive(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("cache: list active documents: %w", err)
	}

	var missed []store.Document
	for _, doc := range docs {
		switch {
		case m.mem.Contains(doc.ID):
			m.recordHit(sessionID, doc.ID, "memory")
		case m.loadPersisted(ctx, sessionID, doc):
			// loaded into memory by loadPersisted
		default:
			missed = append(missed, doc)
		}
	}

	for start := 0; start < len(missed); start += m.cfg.BatchSize {
		end := min(start+m.cfg.BatchSize, len(missed))
		for _, doc := range missed[start:end] {
			m.generate(ctx, sessionID, doc)
		}
		if end < len(missed) {
			// Cooperative yield between batches.
			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
		}
	}

	// Delivery boundary: in-flight generation above was allowed to finish
	// and persist, but a cancelled caller does not get a success.
	return ctx.Err()
}

// loadPersisted attempts the persisted tier. On a complete hit the rows are
// loaded into memory verbatim and true is returned.
func (m *Manager) loadPersisted(ctx context.Context, sessionID string, doc store.Document) bool {
	ok, err := m.store.HasCompleteEmbeddings(ctx, doc.ID, doc.ChunkCount)
	if err != nil {
		m.recordError(sessionID, doc.ID, fmt.Errorf("cache: check persisted tier: %w", err))
		return false
	}
	if !ok {
		return false
	}

	rows, err := m.store.LoadEmbeddings(ctx, doc.ID)
	if err != nil {
		m.recordError(sessionID, doc.ID, fmt.Errorf("cache: load persisted tier: %w", err))
		return false
	}

	entry := &Entry{
		DocumentID: doc.ID,
		Vectors:    make([][]float32, len(rows)),
		Chunks:     make([]string, len(rows)),
		LoadedAt:   time.Now(),
	}
	for i, r := range rows {
		entry.Vectors[i] = r.Vector
		entry.Chunks[i] = r.Text
	}
	m.mem.Add(doc.ID, entry)
	m.recordHit(sessionID, doc.ID, "store")
	return true
}

// generate embeds every chunk of the document, stores the entry in memory,
// and persists asynchronously. Concurrent calls for the same document are
// de-duplicated: the second caller waits for and reuses the first's result.
// Generation runs on a detached context so a cancelled caller does not
// abandon work that is valuable future-cache state.
func (m *Manager) generate(ctx context.Context, sessionID string, doc store.Document) {
	_, err, _ := m.group.Do(doc.ID, func() (any, error) {
		// Recorded only by the caller doing the work, so misses reconcile
		// with actual generations when concurrent callers are de-duplicated.
		m.metrics.misses.Inc()
		m.emitter.Emit(events.Event{
			Type: events.TypeCacheMiss, SessionID: sessionID, DocumentID: doc.ID,
		})

		genCtx := context.WithoutCancel(ctx)

		texts := chunker.Split(doc.Content, m.cfg.Chunking)
		if len(texts) == 0 {
			return &Entry{DocumentID: doc.ID, LoadedAt: time.Now()}, nil
		}

		started := time.Now()
		vectors, err := m.engine.EmbedBatch(genCtx, texts, false)
		if err != nil {
			return nil, err
		}
		m.metrics.generationSeconds.Observe(time.Since(started).Seconds())

		entry := &Entry{
			DocumentID: doc.ID,
			Vectors:    vectors,
			Chunks:     texts,
			LoadedAt:   time.Now(),
		}
		m.mem.Add(doc.ID, entry)

		rows := make([]store.Embedding, len(texts))
		for i := range texts {
			rows[i] = store.Embedding{
				DocumentID: doc.ID,
				ChunkIndex: i,
				SessionID:  sessionID,
				Text:       texts[i],
				Vector:     vectors[i],
			}
		}
		m.persistAsync(rows)
		return entry, nil
	})
	if err != nil {
		m.metrics.generationFailures.Inc()
		m.recordError(sessionID, doc.ID, err)
	}
}

// persistAsync writes rows to the persisted tier in the background. The rows
// stay registered as unpersisted until the write commits; on failure they stay
// registered for the life of the process, so retrieval proceeds from memory
// and the rows regenerate on a future process.
func (m *Manager) persistAsync(rows []store.Embedding) {
	docID := rows[0].DocumentID
	m.pendingMu.Lock()
	m.pending[docID] = rows
	m.pendingMu.Unlock()

	m.persistWG.Add(1)
	go func() {
		defer m.persistWG.Done()
		if err := m.store.SaveEmbeddings(context.Background(), rows); err != nil {
			m.log.Error("cache: persist embeddings failed",
				slog.String("document_id", docID),
				slog.String("error", err.Error()),
			)
			return
		}
		m.pendingMu.Lock()
		delete(m.pending, docID)
		m.pendingMu.Unlock()
	}()
}

// Flush blocks until all background persistence has completed. Call before
// process exit and in tests that reopen the store.
func (m *Manager) Flush() {
	m.persistWG.Wait()
}

// Close drains background work and releases the memory tier.
func (m *Manager) Close() {
	m.Flush()
	m.mem.Purge()
}

// recordHit emits a cache-hit event tagged by source tier.
func (m *Manager) recordHit(sessionID, documentID, source string) {
	m.metrics.hits.WithLabelValues(source).Inc()
	m.emitter.Emit(events.Event{
		Type: events.TypeCacheHit, SessionID: sessionID, DocumentID: documentID,
		Value: map[string]any{"source": source},
	})
}

// recordError emits an error event carrying the document identifier.
func (m *Manager) recordError(sessionID, documentID string, err error) {
	m.log.Warn("cache: document skipped",
		slog.String("document_id", documentID),
		slog.String("error", err.Error()),
	)
	m.emitter.Emit(events.Event{
		Type: events.TypeError, SessionID: sessionID, DocumentID: documentID,
		Value: map[string]any{"error": err.Error()},
	})
}
