package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Context wrappers. The authoritative variant changes only the instructions
// around the same ranked excerpts; the ranking itself is identical.
const (
	contextHeader = "Relevant excerpts from the user's documents:\n\n"
	contextFooter = "\nUse these excerpts to inform your reply where relevant."

	authoritativeHeader = "Answer using ONLY the document excerpts below.\n\n"
	authoritativeFooter = "\nIf the excerpts do not contain the answer, say the documents do not cover it. Do not use outside knowledge."
)

// ContextForLLM retrieves relevant content and formats it into a bounded
// context string for prompt injection. Vector mode is attempted first; if
// semantic retrieval is degraded (encoder unavailable, inference timeout, or
// any other vector-path failure) it falls back to keyword mode. An empty
// string means "omit RAG context" and is not an error; the only error ever
// returned is the caller's own cancellation.
func (m *Manager) ContextForLLM(ctx context.Context, sessionID, query string, opts Options) (string, error) {
	opts = opts.resolve()

	result, err := m.Retrieve(ctx, sessionID, query, ModeVector, opts)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.log.Warn("retrieval: semantic mode degraded, falling back to keyword",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		m.metrics.fallbacks.Inc()

		result, err = m.Retrieve(ctx, sessionID, query, ModeKeyword, opts)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// Absorbed: the chat layer gets "no context", never an error.
			m.log.Error("retrieval: keyword fallback failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			return "", nil
		}
	}

	return formatContext(result, opts), nil
}

// formatContext renders ranked results into the wrapped context string,
// accumulating excerpts until the next would exceed the character budget.
// Excerpts are never truncated mid-text: an excerpt either fits whole or is
// dropped along with everything ranked below it.
func formatContext(result *Result, opts Options) string {
	if result.Empty() {
		return ""
	}

	header, footer := contextHeader, contextFooter
	if opts.Authoritative {
		header, footer = authoritativeHeader, authoritativeFooter
	}

	budget := opts.MaxContextChars - len(header) - len(footer)
	if budget <= 0 {
		return ""
	}

	var excerpts []string
	used := 0
	add := func(block string) bool {
		if used+len(block) > budget {
			return false
		}
		excerpts = append(excerpts, block)
		used += len(block)
		return true
	}

	switch result.Mode {
	case ModeVector:
		for i, c := range result.Chunks {
			block := fmt.Sprintf("[%d] (relevance %.2f)\n%s\n\n", i+1, c.Score, c.Text)
			if !add(block) {
				break
			}
		}
	case ModeKeyword:
		for i, d := range result.Documents {
			block := fmt.Sprintf("[%d] %s\n%s\n\n", i+1, d.Document.ID, d.Document.Content)
			if !add(block) {
				break
			}
		}
	}

	if len(excerpts) == 0 {
		return ""
	}
	return header + strings.TrimRight(strings.Join(excerpts, ""), "\n") + "\n" + footer
}

// IsDegraded reports whether err represents a degraded-semantic-mode
// condition rather than a hard failure. Exposed for callers that drive
// Retrieve directly instead of ContextForLLM.
func IsDegraded(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
