package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/docwell-ai/ragcore/internal/cache"
	"github.com/docwell-ai/ragcore/internal/chunker"
	"github.com/docwell-ai/ragcore/internal/embedder"
	"github.com/docwell-ai/ragcore/internal/events"
	"github.com/docwell-ai/ragcore/internal/index"
	"github.com/docwell-ai/ragcore/internal/logging"
	"github.com/docwell-ai/ragcore/internal/retrieval"
	"github.com/docwell-ai/ragcore/internal/store"
)

// app bundles the long-lived collaborators a command needs, wired once per
// invocation.
type app struct {
	store   *store.Store
	cache   *cache.Manager
	manager *retrieval.Manager
	engine  *embedder.Engine
	log     *slog.Logger
}

// newApp opens the store and constructs the embedding engine, cache, index,
// and retrieval manager from environment configuration.
func newApp() (*app, error) {
	log := logging.New()

	dbPath := os.Getenv("RAGCORE_DB")
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		dbPath = p
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embedder.ValidateConfig(log)
	engine, err := embedder.NewFromEnv(log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}

	emitter := events.NewLogEmitter(log)
	reg := prometheus.NewRegistry()

	cacheMgr, err := cache.New(st, engine, cache.Config{
		MemoryEntries: getEnvInt("RAGCORE_CACHE_ENTRIES", 0),
		BatchSize:     getEnvInt("RAGCORE_BATCH_SIZE", 0),
		Chunking:      chunkingFromEnv(),
	}, emitter, reg, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	// The cache overlays not-yet-persisted vectors onto the index so a
	// document is searchable the moment its embeddings are generated.
	idx, err := index.New(st, index.Options{Memory: cacheMgr}, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	mgr, err := retrieval.New(st, cacheMgr, engine, idx, retrieval.Config{
		AllowCrossSession: os.Getenv("RAGCORE_CROSS_SESSION") == "true",
	}, emitter, reg, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create retrieval manager: %w", err)
	}

	return &app{
		store:   st,
		cache:   cacheMgr,
		manager: mgr,
		engine:  engine,
		log:     log,
	}, nil
}

// close drains background persistence and releases the database.
func (a *app) close() {
	a.cache.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", slog.String("error", err.Error()))
	}
}

// chunkingFromEnv builds chunker options from env vars; zero values select
// the package defaults.
func chunkingFromEnv() chunker.Options {
	return chunker.Options{
		WindowWords:  getEnvInt("RAGCORE_WINDOW_WORDS", 0),
		OverlapWords: getEnvInt("RAGCORE_OVERLAP_WORDS", 0),
	}
}

// getEnvInt parses an int env var, returning fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat parses a float env var, returning fallback when unset or
// invalid.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
