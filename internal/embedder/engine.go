// Package embedder converts text into dense vector embeddings for retrieval.
// The Engine wraps a concrete HTTP backend (Ollama, OpenAI) behind a
// backend-agnostic contract: role-prefixed asymmetric encoding, a bounded
// per-call timeout, L2 normalisation, and validation of every returned
// vector. Numeric results may differ by a few ULPs between backends; callers
// must compare embeddings by cosine similarity, never bit-for-bit.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docwell-ai/ragcore/internal/vectormath"
)

// Role prefixes for the asymmetric encoder. Retrieval queries and stored
// passages are embedded into different regions of the same space; conflating
// them degrades ranking quality, so the prefix is applied by the Engine and
// never left to callers.
const (
	queryPrefix   = "search_query: "
	passagePrefix = "search_document: "
)

// DefaultTimeout bounds a single inference call. A hung or overloaded model
// is treated as failed rather than retried; retrying a slow backend rarely
// helps and burns the timeout budget again.
const DefaultTimeout = 30 * time.Second

// Sentinel errors callers branch on to select a degraded retrieval mode.
var (
	// ErrUnavailable means the encoder backend could not be initialised.
	// Semantic retrieval is unavailable for the process; callers should fall
	// back to keyword mode, never treat this as an empty result.
	ErrUnavailable = errors.New("embedder: encoder unavailable")
	// ErrTimeout means a single inference call exceeded the bounded timeout.
	ErrTimeout = errors.New("embedder: inference timed out")
)

// Backend converts a batch of already-prefixed texts into raw, unnormalised
// vectors. Implementations must be safe for concurrent use and return a slice
// parallel to the input.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Factory constructs a Backend on first use and reports the expected vector
// dimension (0 when the backend's dimension is not known up front).
type Factory func() (Backend, int, error)

// Engine is the embedding engine exposed to the rest of the core. Backend
// construction is deferred to the first Embed call and performed exactly once;
// the result (or the failure) is cached for all subsequent callers so a broken
// configuration fails fast and consistently.
type Engine struct {
	factory Factory
	timeout time.Duration
	log     *slog.Logger

	// initOnce guards the one-time backend construction.
	initOnce sync.Once
	backend  Backend
	dims     int
	initErr  error
}

// New constructs an Engine from the given factory. timeout bounds each
// inference call; zero selects DefaultTimeout.
func New(factory Factory, timeout time.Duration, log *slog.Logger) (*Engine, error) {
	if factory == nil {
		return nil, fmt.Errorf("embedder: factory must not be nil")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{factory: factory, timeout: timeout, log: log}, nil
}

// NewFromEnv constructs an Engine whose backend is resolved from environment
// variables on first use (see NewBackendFromEnv).
func NewFromEnv(log *slog.Logger) (*Engine, error) {
	return New(NewBackendFromEnv, 0, log)
}

// init performs the one-time backend construction.
func (e *Engine) init() error {
	e.initOnce.Do(func() {
		backend, dims, err := e.factory()
		if err != nil {
			e.initErr = err
			e.log.Error("embedder: backend initialisation failed", slog.String("error", err.Error()))
			return
		}
		e.backend = backend
		e.dims = dims
		e.log.Info("embedder: backend initialised", slog.Int("dimensions", dims))
	})
	return e.initErr
}

// Dimensions returns the expected vector dimension, or 0 when unknown.
// It triggers backend initialisation.
func (e *Engine) Dimensions() int {
	if err := e.init(); err != nil {
		return 0
	}
	return e.dims
}

// Embed converts a single text into an L2-normalised embedding. isQuery
// selects the retrieval-query role prefix; pass false for stored passages.
func (e *Engine) Embed(ctx context.Context, text string, isQuery bool) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, isQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts a batch of texts into L2-normalised embeddings. The
// returned slice is parallel to texts. Every vector is validated (dimension,
// finiteness) before being returned; a malformed backend response is an error,
// never a silently-degenerate result.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string, isQuery bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.init(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	prefix := passagePrefix
	if isQuery {
		prefix = queryPrefix
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.backend.Embed(callCtx, prefixed)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
		}
		return nil, fmt.Errorf("embedder: embed batch of %d: %w", len(texts), err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(texts), len(raw))
	}

	out := make([][]float32, len(raw))
	for i, v := range raw {
		if err := vectormath.Validate(v, e.dims); err != nil {
			return nil, fmt.Errorf("embedder: vector %d: %w", i, err)
		}
		out[i] = vectormath.Normalize(v)
	}
	return out, nil
}
