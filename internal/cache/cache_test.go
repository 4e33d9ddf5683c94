package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docwell-ai/ragcore/internal/chunker"
	"github.com/docwell-ai/ragcore/internal/events"
	"github.com/docwell-ai/ragcore/internal/store"
)

// fakeStore is an in-memory Store implementation with injectable failures.
type fakeStore struct {
	mu     sync.Mutex
	active map[string][]store.Document
	rows   map[string][]store.Embedding

	listErr   error
	saves     int
	saveBlock chan struct{} // when non-nil, SaveEmbeddings waits for it to close
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		active: make(map[string][]store.Document),
		rows:   make(map[string][]store.Embedding),
	}
}

func (f *fakeStore) addActive(sessionID string, doc store.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[sessionID] = append(f.active[sessionID], doc)
}

func (f *fakeStore) ListActive(ctx context.Context, sessionID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]store.Document(nil), f.active[sessionID]...), nil
}

func (f *fakeStore) HasCompleteEmbeddings(ctx context.Context, documentID string, chunkCount int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return chunkCount > 0 && len(f.rows[documentID]) == chunkCount, nil
}

func (f *fakeStore) LoadEmbeddings(ctx context.Context, documentID string) ([]store.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Embedding(nil), f.rows[documentID]...), nil
}

func (f *fakeStore) SaveEmbeddings(ctx context.Context, rows []store.Embedding) error {
	if f.saveBlock != nil {
		<-f.saveBlock
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	for _, r := range rows {
		f.rows[r.DocumentID] = append(f.rows[r.DocumentID], r)
	}
	return nil
}

// spyEmbedder counts calls and can fail for chosen texts.
type spyEmbedder struct {
	calls    atomic.Int64
	failWhen func(text string) bool
	block    chan struct{} // when non-nil, Embed waits for it to close
}

func (s *spyEmbedder) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if s.failWhen != nil && s.failWhen(t) {
			return nil, fmt.Errorf("spy: refusing to embed %q", t)
		}
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func newTestManager(t *testing.T, st Store, engine Embedder, emitter events.Emitter) *Manager {
	t.Helper()
	m, err := New(st, engine, Config{
		BatchSize: DefaultBatchSize,
		Yield:     time.Millisecond,
		Chunking:  chunker.Options{WindowWords: 5, OverlapWords: 1},
	}, emitter, prometheus.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func doc(id, content string) store.Document {
	return store.Document{ID: id, Content: content}
}

func Test_Cache_GeneratesOnMiss(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-1", "alpha beta gamma"))
	engine := &spyEmbedder{}
	m := newTestManager(t, st, engine, nil)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	entry, ok := m.Get("doc-1")
	if !ok {
		t.Fatal("document not resident after ensure")
	}
	if len(entry.Vectors) != 1 || len(entry.Chunks) != 1 {
		t.Fatalf("unexpected entry shape: %d vectors, %d chunks", len(entry.Vectors), len(entry.Chunks))
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("expected 1 embed call, got %d", engine.calls.Load())
	}

	m.Flush()
	if st.saves != 1 {
		t.Fatalf("expected 1 async persist, got %d", st.saves)
	}
}

func Test_Cache_MemoryHitSkipsEverything(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-1", "alpha beta gamma"))
	engine := &spyEmbedder{}
	m := newTestManager(t, st, engine, nil)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("memory hit should not re-embed: %d calls", engine.calls.Load())
	}
}

func Test_Cache_PersistedTierSurvivesMemoryLoss(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", store.Document{ID: "doc-1", Content: "alpha beta gamma"})
	engine := &spyEmbedder{}
	m := newTestManager(t, st, engine, nil)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	m.Flush()

	// The persisted rows now exist; the document's chunk count must reflect
	// them for the completeness check, as the real store maintains it.
	st.mu.Lock()
	st.active["s1"][0].ChunkCount = len(st.rows["doc-1"])
	st.mu.Unlock()

	// Simulate a restart: fresh manager, same persisted store.
	m2 := newTestManager(t, st, engine, nil)
	if err := m2.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m2.Get("doc-1"); !ok {
		t.Fatal("document not loaded from persisted tier")
	}
	if engine.calls.Load() != 1 {
		t.Fatalf("persisted hit must not re-embed: %d calls", engine.calls.Load())
	}
}

func Test_Cache_FailureIsolatedPerDocument(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-bad", "poison text"))
	st.addActive("s1", doc("doc-good", "healthy text"))
	engine := &spyEmbedder{failWhen: func(text string) bool {
		return strings.Contains(text, "poison")
	}}

	var mu sync.Mutex
	var errs []events.Event
	emitter := emitterFunc(func(ev events.Event) {
		if ev.Type == events.TypeError {
			mu.Lock()
			errs = append(errs, ev)
			mu.Unlock()
		}
	})
	m := newTestManager(t, st, engine, emitter)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatalf("sibling failure must not propagate: %v", err)
	}
	if _, ok := m.Get("doc-good"); !ok {
		t.Fatal("healthy document should be resident")
	}
	if _, ok := m.Get("doc-bad"); ok {
		t.Fatal("failed document must not be resident")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 || errs[0].DocumentID != "doc-bad" {
		t.Fatalf("expected one error event for doc-bad, got %+v", errs)
	}
}

func Test_Cache_SingleflightDeduplicatesConcurrentGeneration(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-1", "alpha beta gamma"))
	block := make(chan struct{})
	engine := &spyEmbedder{block: block}
	m := newTestManager(t, st, engine, nil)

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.EnsureEmbeddings(context.Background(), "s1")
		}()
	}

	// Let all callers reach the in-flight group before releasing the embedder.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	if got := engine.calls.Load(); got != 1 {
		t.Fatalf("concurrent callers shared no work: %d embed calls", got)
	}
}

func Test_Cache_UnpersistedVectorsVisibleUntilCommit(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.saveBlock = make(chan struct{})
	st.addActive("s1", doc("doc-1", "alpha beta gamma"))
	m := newTestManager(t, st, &spyEmbedder{}, nil)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	// The background write is held open: the rows must be surfaced so the
	// vector search can see the document in the meantime.
	got := m.UnpersistedVectors([]string{"doc-1"})
	if len(got) != 1 || got[0].DocumentID != "doc-1" {
		t.Fatalf("expected doc-1's unpersisted row, got %+v", got)
	}
	if len(got[0].Vector) == 0 {
		t.Fatal("unpersisted candidate missing its vector")
	}

	close(st.saveBlock)
	m.Flush()
	if got := m.UnpersistedVectors([]string{"doc-1"}); len(got) != 0 {
		t.Fatalf("committed rows must leave the unpersisted set, got %+v", got)
	}
}

func Test_Cache_ConcurrentCallersRecordOneMiss(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-1", "alpha beta gamma"))
	block := make(chan struct{})
	engine := &spyEmbedder{block: block}

	var mu sync.Mutex
	misses := 0
	emitter := emitterFunc(func(ev events.Event) {
		if ev.Type == events.TypeCacheMiss {
			mu.Lock()
			misses++
			mu.Unlock()
		}
	})
	m := newTestManager(t, st, engine, emitter)

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.EnsureEmbeddings(context.Background(), "s1")
		}()
	}

	// Let all callers reach the in-flight group before releasing the embedder.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if misses != 1 {
		t.Fatalf("de-duplicated generation recorded %d misses, want 1", misses)
	}
}

func Test_Cache_EmptyDocumentYieldsEmptyEntry(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-empty", "   "))
	engine := &spyEmbedder{}
	m := newTestManager(t, st, engine, nil)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if engine.calls.Load() != 0 {
		t.Fatal("whitespace-only document must not reach the embedder")
	}
}

func Test_Cache_InvalidateDropsEntry(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.addActive("s1", doc("doc-1", "alpha beta gamma"))
	m := newTestManager(t, st, &spyEmbedder{}, nil)

	if err := m.EnsureEmbeddings(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	m.Invalidate("doc-1")
	if _, ok := m.Get("doc-1"); ok {
		t.Fatal("entry should be gone after invalidation")
	}
}

// emitterFunc adapts a function to the events.Emitter interface.
type emitterFunc func(events.Event)

func (f emitterFunc) Emit(ev events.Event) { f(ev) }
