package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docwell-ai/ragcore/internal/index"
	"github.com/docwell-ai/ragcore/internal/store"
)

// vocab maps word stems to embedding dimensions so test vectors are exactly
// computable by hand. Unknown words contribute nothing.
var vocab = map[string]int{
	"tenant": 1, "eviction": 2, "right": 3, "notice": 4, "landlord": 5,
	"tomato": 6, "sauce": 7, "basil": 8, "garlic": 9, "simmer": 10,
	"have": 11, "written": 12,
}

const stubDim = 16

// stubEmbed builds a bag-of-words vector over vocab with naive plural
// stemming.
func stubEmbed(text string) []float32 {
	v := make([]float32, stubDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?")
		w = strings.TrimSuffix(w, "s")
		if d, ok := vocab[w]; ok {
			v[d]++
		}
	}
	return v
}

// stubEmbedder implements Embedder over stubEmbed, with injectable failure.
type stubEmbedder struct {
	calls int
	err   error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return stubEmbed(text), nil
}

// fakeStore holds active documents per session.
type fakeStore struct {
	active  map[string][]store.Document
	touched []string
}

func (f *fakeStore) ListActive(ctx context.Context, sessionID string) ([]store.Document, error) {
	return f.active[sessionID], nil
}

func (f *fakeStore) TouchDocument(ctx context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

// nopCache satisfies Cache; the searcher below already holds every vector.
type nopCache struct{}

func (nopCache) EnsureEmbeddings(ctx context.Context, sessionID string) error { return nil }

// memSource exposes pre-embedded document chunks to the index with no sample
// set, so every search takes the exact full-scan path.
type memSource struct {
	candidates []index.Candidate
}

func (m *memSource) CurrentSampleSet(ctx context.Context) (*index.SampleSet, error) {
	return nil, nil
}

func (m *memSource) CandidatesInRange(ctx context.Context, sample, version int, lo, hi string, docIDs []string) ([]index.Candidate, error) {
	return nil, fmt.Errorf("memSource: no sample set")
}

func (m *memSource) AllVectors(ctx context.Context, docIDs []string) ([]index.Candidate, error) {
	allowed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		allowed[id] = true
	}
	var out []index.Candidate
	for _, c := range m.candidates {
		if docIDs == nil || allowed[c.DocumentID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeSearcher returns canned results, for formatting tests.
type fakeSearcher struct {
	results []index.Result
}

func (f *fakeSearcher) Search(ctx context.Context, query []float32, docIDs []string, topK int, threshold float64) ([]index.Result, error) {
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

// corpus returns a store and searcher over two documents: one about tenant
// eviction, one about cooking.
func corpus() (*fakeStore, Searcher) {
	evictionText := "Tenants facing eviction have the right to written notice before removal."
	cookingText := "Simmer the tomato sauce with basil and garlic."

	st := &fakeStore{active: map[string][]store.Document{
		"s1": {
			{ID: "doc-lease", Content: evictionText, ChunkCount: 1},
			{ID: "doc-recipes", Content: cookingText, ChunkCount: 1},
		},
	}}
	src := &memSource{candidates: []index.Candidate{
		{DocumentID: "doc-lease", ChunkIndex: 0, Text: evictionText, Vector: stubEmbed(evictionText)},
		{DocumentID: "doc-recipes", ChunkIndex: 0, Text: cookingText, Vector: stubEmbed(cookingText)},
	}}
	ix, err := index.New(src, index.Options{}, nil)
	if err != nil {
		panic(err)
	}
	return st, ix
}

func newTestManager(t *testing.T, st Store, engine Embedder, searcher Searcher, cfg Config) *Manager {
	t.Helper()
	m, err := New(st, nopCache{}, engine, searcher, cfg, nil, prometheus.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func Test_Retrieval_EmptyCorpusReturnsEmpty(t *testing.T) {
	t.Parallel()

	st := &fakeStore{active: map[string][]store.Document{}}
	engine := &stubEmbedder{}
	_, ix := corpus()
	m := newTestManager(t, st, engine, ix, Config{})

	result, err := m.Retrieve(context.Background(), "empty-session", "tenant rights", ModeVector, Options{})
	if err != nil {
		t.Fatalf("empty corpus must not error: %v", err)
	}
	if !result.Empty() {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if engine.calls != 0 {
		t.Fatal("empty corpus must not reach the embedder")
	}
	if result.Latency > time.Second {
		t.Fatalf("empty corpus should return fast, took %v", result.Latency)
	}
}

func Test_Retrieval_SemanticFindsRelevantChunk(t *testing.T) {
	t.Parallel()

	st, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{})

	result, err := m.Retrieve(context.Background(), "s1", "tenant rights during eviction", ModeVector, Options{})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("expected exactly the relevant chunk, got %d", len(result.Chunks))
	}
	got := result.Chunks[0]
	if got.DocumentID != "doc-lease" {
		t.Fatalf("wrong document retrieved: %s", got.DocumentID)
	}
	if got.Score < DefaultThreshold {
		t.Fatalf("score %v below threshold %v", got.Score, DefaultThreshold)
	}
}

func Test_Retrieval_TouchesReturnedDocuments(t *testing.T) {
	t.Parallel()

	st, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{})

	if _, err := m.Retrieve(context.Background(), "s1", "tenant rights during eviction", ModeVector, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(st.touched) != 1 || st.touched[0] != "doc-lease" {
		t.Fatalf("expected doc-lease touched, got %v", st.touched)
	}
}

func Test_Retrieval_KeywordScoresTokenOverlap(t *testing.T) {
	t.Parallel()

	st := &fakeStore{active: map[string][]store.Document{
		"s1": {
			{ID: "doc-both", Content: "the tenant and the eviction process", LastAccessedAt: time.Now()},
			{ID: "doc-one", Content: "only the tenant appears here", LastAccessedAt: time.Now()},
			{ID: "doc-none", Content: "completely unrelated text", LastAccessedAt: time.Now()},
		},
	}}
	_, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{})

	result, err := m.Retrieve(context.Background(), "s1", "tenant eviction", ModeKeyword, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("expected 2 matching documents, got %d", len(result.Documents))
	}
	if result.Documents[0].Document.ID != "doc-both" {
		t.Fatalf("two-token match should rank first, got %s", result.Documents[0].Document.ID)
	}
	if result.Documents[1].Document.ID != "doc-one" {
		t.Fatalf("one-token match should rank second, got %s", result.Documents[1].Document.ID)
	}
}

func Test_Retrieval_UnknownModeRejected(t *testing.T) {
	t.Parallel()

	st, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{})

	if _, err := m.Retrieve(context.Background(), "s1", "q", Mode("psychic"), Options{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func Test_Retrieval_CrossSessionDeniedWithoutCapability(t *testing.T) {
	t.Parallel()

	st, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{AllowCrossSession: false})

	_, err := m.Retrieve(context.Background(), "s1", "tenant", ModeVector,
		Options{CrossSessions: []string{"s2"}})
	if !errors.Is(err, ErrCrossSessionDenied) {
		t.Fatalf("expected ErrCrossSessionDenied, got %v", err)
	}
	_, err = m.Retrieve(context.Background(), "s1", "tenant", ModeKeyword,
		Options{CrossSessions: []string{"s2"}})
	if !errors.Is(err, ErrCrossSessionDenied) {
		t.Fatalf("keyword mode must enforce the same capability, got %v", err)
	}
}

func Test_Retrieval_CrossSessionAllowedWithCapability(t *testing.T) {
	t.Parallel()

	st := &fakeStore{active: map[string][]store.Document{
		"s1": {{ID: "doc-a", Content: "tenant paperwork", LastAccessedAt: time.Now()}},
		"s2": {{ID: "doc-b", Content: "tenant ledger", LastAccessedAt: time.Now()}},
	}}
	_, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{AllowCrossSession: true})

	result, err := m.Retrieve(context.Background(), "s1", "tenant", ModeKeyword,
		Options{CrossSessions: []string{"s2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 2 {
		t.Fatalf("expected documents from both sessions, got %d", len(result.Documents))
	}
}

func Test_Retrieval_KeywordScoresCrossSessionDocumentOnce(t *testing.T) {
	t.Parallel()

	shared := store.Document{ID: "doc-shared", Content: "tenant paperwork", LastAccessedAt: time.Now()}
	st := &fakeStore{active: map[string][]store.Document{
		"s1": {shared},
		"s2": {shared},
	}}
	_, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{AllowCrossSession: true})

	result, err := m.Retrieve(context.Background(), "s1", "tenant", ModeKeyword,
		Options{CrossSessions: []string{"s2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Documents) != 1 {
		t.Fatalf("document active in both searched sessions must appear once, got %d", len(result.Documents))
	}
}

func Test_ContextForLLM_FallsBackToKeywordOnEncoderFailure(t *testing.T) {
	t.Parallel()

	st, ix := corpus()
	engine := &stubEmbedder{err: errors.New("encoder offline")}
	m := newTestManager(t, st, engine, ix, Config{})

	out, err := m.ContextForLLM(context.Background(), "s1", "tenant eviction notice", Options{})
	if err != nil {
		t.Fatalf("fallback must absorb the encoder failure: %v", err)
	}
	if out == "" {
		t.Fatal("keyword fallback should still produce context")
	}
	if !strings.Contains(out, "doc-lease") {
		t.Fatalf("fallback context should carry the matching document, got %q", out)
	}
}

func Test_ContextForLLM_EmptyWhenNothingRelevant(t *testing.T) {
	t.Parallel()

	st, ix := corpus()
	m := newTestManager(t, st, &stubEmbedder{}, ix, Config{})

	out, err := m.ContextForLLM(context.Background(), "s1", "simmer basil garlic sauce", Options{
		Threshold: 0.99, // nothing scores this high against the cooking query
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Fatalf("expected empty context above threshold, got %q", out)
	}
}

func Test_ContextForLLM_NoResultsYieldsEmptyString(t *testing.T) {
	t.Parallel()

	st := &fakeStore{active: map[string][]store.Document{}}
	m := newTestManager(t, st, &stubEmbedder{}, &fakeSearcher{}, Config{})

	out, err := m.ContextForLLM(context.Background(), "s1", "anything", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Fatalf("expected empty context, got %q", out)
	}
}

func Test_FormatContext_RespectsBudget(t *testing.T) {
	t.Parallel()

	var results []index.Result
	for i := 0; i < 20; i++ {
		results = append(results, index.Result{
			Candidate: index.Candidate{
				DocumentID: fmt.Sprintf("doc-%d", i),
				ChunkIndex: 0,
				Text:       strings.Repeat("word ", 100),
			},
			Score: 0.9 - float64(i)*0.01,
		})
	}
	result := &Result{Mode: ModeVector}
	for _, r := range results {
		result.Chunks = append(result.Chunks, ScoredChunk{
			DocumentID: r.DocumentID, ChunkIndex: r.ChunkIndex, Text: r.Text, Score: r.Score,
		})
	}

	opts := Options{MaxContextChars: 1500}.resolve()
	out := formatContext(result, opts)
	if out == "" {
		t.Fatal("expected some context within the budget")
	}
	if len(out) > opts.MaxContextChars {
		t.Fatalf("context length %d exceeds budget %d", len(out), opts.MaxContextChars)
	}
	// The top-ranked excerpt must be the one that survives trimming.
	if !strings.Contains(out, "[1]") {
		t.Fatal("top-ranked excerpt missing")
	}
}

func Test_FormatContext_AuthoritativeWrapper(t *testing.T) {
	t.Parallel()

	result := &Result{
		Mode:   ModeVector,
		Chunks: []ScoredChunk{{DocumentID: "doc-1", Text: "the only fact", Score: 0.9}},
	}

	plain := formatContext(result, Options{}.resolve())
	strict := formatContext(result, func() Options {
		o := Options{Authoritative: true}
		return o.resolve()
	}())

	if !strings.Contains(plain, "the only fact") || !strings.Contains(strict, "the only fact") {
		t.Fatal("both variants must carry the excerpt")
	}
	if !strings.Contains(strict, "ONLY") {
		t.Fatal("authoritative variant should carry the strict instruction")
	}
	if strings.Contains(plain, "ONLY") {
		t.Fatal("plain variant should not carry the strict instruction")
	}
}

func Test_FormatContext_TinyBudgetYieldsNothing(t *testing.T) {
	t.Parallel()

	result := &Result{
		Mode:   ModeVector,
		Chunks: []ScoredChunk{{DocumentID: "doc-1", Text: strings.Repeat("x", 500), Score: 0.9}},
	}
	opts := Options{MaxContextChars: 10}
	opts.TopK = DefaultTopK
	opts.Threshold = DefaultThreshold
	if out := formatContext(result, opts); out != "" {
		t.Fatalf("tiny budget should yield empty context, got %q", out)
	}
}
