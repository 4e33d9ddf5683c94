package embedder

import (
	"fmt"
	"os"
	"strconv"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension requested from
	// text-embedding-3-small. 384 matches the reference retrieval model so
	// stored corpora stay comparable when switching backends.
	defaultOpenAIDimensions = 384
)

// DefaultDimensions returns the default embedding vector size for the given
// backend name. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewBackendFromEnv resolves and constructs an embedding Backend from
// environment variables, returning it along with its expected vector
// dimension. This is the capability-negotiation step: the chosen backend is
// fixed at initialisation and callers never branch on backend identity.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: "ollama" (local, accelerated; default) or
//     "openai" (hosted, portable fallback)
//  2. EMBEDDING_ENDPOINT: overrides the backend's default endpoint
//  3. EMBEDDING_MODEL: overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY (or OPENAI_API_KEY): credentials for openai
//  5. EMBEDDING_DIMENSIONS: overrides the default vector size
func NewBackendFromEnv() (Backend, int, error) {
	backend := getEnvOrDefault("EMBEDDING_PROVIDER", "ollama")

	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		return NewOllamaBackend(&OllamaConfig{Host: host, Model: model}), DefaultDimensions("ollama"), nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, 0, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1")
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)
		dims := DefaultDimensions("openai")
		return NewOpenAIBackend(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      model,
			Dimensions: dims,
		}), dims, nil

	default:
		return nil, 0, fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai)", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
