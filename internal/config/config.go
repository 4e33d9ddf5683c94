// Package config provides YAML-based configuration for ragcore.
// Configuration is loaded with a layered precedence: defaults, then the YAML
// file, then env vars. Environment variables always win, so existing
// workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGCORE_CONFIG environment variable
//  3. ~/.ragcore/config.yaml
//  4. ./ragcore.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase,
// underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Store configures the SQLite persistence layer.
	Store StoreConfig `yaml:"store"`

	// Retrieval configures retrieval defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Cache configures the embedding cache.
	Cache CacheConfig `yaml:"cache"`

	// Chunker configures document chunking.
	Chunker ChunkerConfig `yaml:"chunker"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// StoreConfig holds SQLite persistence settings.
type StoreConfig struct {
	// DBPath is the SQLite database path.
	DBPath string `yaml:"db_path"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	// TopK is the default number of results per query.
	TopK int `yaml:"top_k"`
	// Threshold is the minimum cosine similarity for vector results.
	Threshold float32 `yaml:"threshold"`
	// MaxContextChars bounds the formatted context string.
	MaxContextChars int `yaml:"max_context_chars"`
	// CrossSession enables searching other sessions' active documents.
	CrossSession bool `yaml:"cross_session"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	// MemoryEntries is the in-memory LRU capacity (documents).
	MemoryEntries int `yaml:"memory_entries"`
	// BatchSize is the number of documents embedded between yields.
	BatchSize int `yaml:"batch_size"`
}

// ChunkerConfig holds document chunking settings.
type ChunkerConfig struct {
	// WindowWords is the chunk size in words.
	WindowWords int `yaml:"window_words"`
	// OverlapWords is the overlap between consecutive chunks in words.
	OverlapWords int `yaml:"overlap_words"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"RAGCORE_DB", func(c *Config) string { return c.Store.DBPath }},
	{"RAGCORE_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RAGCORE_THRESHOLD", func(c *Config) string { return float32Str(c.Retrieval.Threshold) }},
	{"RAGCORE_MAX_CONTEXT_CHARS", func(c *Config) string { return intStr(c.Retrieval.MaxContextChars) }},
	{"RAGCORE_CROSS_SESSION", func(c *Config) string { return boolStr(c.Retrieval.CrossSession) }},
	{"RAGCORE_CACHE_ENTRIES", func(c *Config) string { return intStr(c.Cache.MemoryEntries) }},
	{"RAGCORE_BATCH_SIZE", func(c *Config) string { return intStr(c.Cache.BatchSize) }},
	{"RAGCORE_WINDOW_WORDS", func(c *Config) string { return intStr(c.Chunker.WindowWords) }},
	{"RAGCORE_OVERLAP_WORDS", func(c *Config) string { return intStr(c.Chunker.OverlapWords) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set, do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGCORE_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".ragcore", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("ragcore.yaml"); err == nil {
		return "ragcore.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
