// Package chunker splits raw document text into overlapping word windows, the
// unit of embedding and retrieval. Chunk boundaries are derived only from the
// input text and the window parameters, so re-chunking the same text always
// yields the same chunks; the cache layer depends on this determinism.
package chunker

import (
	"strings"

	"github.com/docwell-ai/ragcore/internal/tokens"
)

// Default window parameters, in words.
const (
	// DefaultWindowWords is the number of words per chunk.
	DefaultWindowWords = 200
	// DefaultOverlapWords is the number of words shared between consecutive
	// chunks so sentences spanning a boundary are retrievable from both sides.
	DefaultOverlapWords = 30
)

// Options holds the chunking parameters.
type Options struct {
	// WindowWords is the chunk size in words. Defaults to DefaultWindowWords
	// when zero or negative.
	WindowWords int
	// OverlapWords is the overlap between consecutive chunks in words.
	// Clamped so that every step advances by at least one word; an overlap
	// equal to or larger than the window must not loop forever.
	OverlapWords int
}

// resolve applies defaults and clamps the overlap below the window.
func (o Options) resolve() (window, overlap int) {
	window = o.WindowWords
	if window <= 0 {
		window = DefaultWindowWords
	}
	overlap = o.OverlapWords
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= window {
		overlap = window - 1
	}
	return window, overlap
}

// Chunk is one word-window slice of a document, immutable once created.
type Chunk struct {
	// DocumentID identifies the owning document.
	DocumentID string
	// Index is the ordinal of this chunk within the document.
	Index int
	// Text is the chunk content, whitespace-normalised.
	Text string
	// TokenCount is the estimated token count of Text.
	TokenCount int
}

// Split divides text into overlapping word windows. Whitespace is collapsed
// before splitting so boundaries are always word-aligned, never mid-word.
// Text shorter than the window yields exactly one chunk; empty or
// whitespace-only text yields none.
func Split(text string, opts Options) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	window, overlap := opts.resolve()
	if len(words) <= window {
		return []string{strings.Join(words, " ")}
	}

	step := window - overlap
	var out []string
	for start := 0; start < len(words); start += step {
		end := start + window
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

// ForDocument chunks text and attaches document identity and token estimates.
func ForDocument(documentID, text string, opts Options) []Chunk {
	parts := Split(text, opts)
	chunks := make([]Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Index:      i,
			Text:       p,
			TokenCount: tokens.Estimate(p),
		})
	}
	return chunks
}
