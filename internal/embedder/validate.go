package embedder

import (
	"log/slog"
	"os"
	"strings"
)

// knownChatModelFragments contains name fragments that identify chat models
// which are NOT suitable for embedding. If EMBEDDING_MODEL matches any of
// these, a warning is emitted so the operator knows they likely misconfigured
// the pipeline; a chat model produces poor or broken embeddings.
var knownChatModelFragments = []string{
	"gpt-4",
	"gpt-3.5",
	"o1",
	"o3",
	"llama3",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi-",
	"claude",
	"deepseek",
	"qwen",
}

// looksLikeChatModel returns true when the model name resembles a known chat
// model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, fragment := range knownChatModelFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// ValidateConfig runs pre-flight checks on the embedding configuration so
// operators get a clear warning at startup rather than a cryptic failure on
// the first embed call. It never fails hard: a broken configuration surfaces
// as ErrUnavailable from the Engine, which retrieval degrades around.
func ValidateConfig(log *slog.Logger) {
	model := os.Getenv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	if getEnvOrDefault("EMBEDDING_PROVIDER", "ollama") == "openai" &&
		os.Getenv("EMBEDDING_API_KEY") == "" && os.Getenv("OPENAI_API_KEY") == "" {
		log.Warn("embedder: EMBEDDING_PROVIDER=openai but no API key is set",
			slog.String("hint", "set OPENAI_API_KEY or EMBEDDING_API_KEY, or switch to ollama"),
		)
	}
}
